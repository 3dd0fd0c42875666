package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam attempt ──────────────────────────────────────────────────
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrPasswordRequired     ErrCode = "PASSWORD_REQUIRED"
	ErrWrongPassword        ErrCode = "WRONG_PASSWORD"
	ErrTimeExpired          ErrCode = "TIME_EXPIRED"
	ErrConcurrencyViolation ErrCode = "CONCURRENCY_VIOLATION"
	ErrSessionExpired       ErrCode = "SESSION_EXPIRED"
	ErrDeviceMismatch       ErrCode = "DEVICE_MISMATCH"
	ErrAttemptClosed        ErrCode = "ATTEMPT_CLOSED"
	ErrResultUnavailable    ErrCode = "RESULT_UNAVAILABLE"
	ErrAnswerLocked         ErrCode = "ANSWER_LOCKED"
	ErrAutoSaveDisabled     ErrCode = "AUTOSAVE_DISABLED"

	// ─── Webhook ───────────────────────────────────────────────────────
	ErrInvalidSignature ErrCode = "INVALID_SIGNATURE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrStaffAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas dan staf."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Exam attempt ──────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrPasswordRequired:
		return "Ujian ini memerlukan kata sandi."
	case ErrWrongPassword:
		return "Kata sandi ujian salah."
	case ErrTimeExpired:
		return "Waktu ujian telah habis. Jawaban Anda dikumpulkan otomatis."
	case ErrConcurrencyViolation:
		return "Ujian sedang berlangsung di perangkat lain."
	case ErrSessionExpired:
		return "Sesi ujian Anda telah berakhir. Mulai ujian kembali untuk melanjutkan."
	case ErrDeviceMismatch:
		return "Ujian ini terikat pada perangkat lain."
	case ErrAttemptClosed:
		return "Percobaan ujian ini sudah tidak berlangsung."
	case ErrResultUnavailable:
		return "Hasil ujian belum tersedia."
	case ErrAnswerLocked:
		return "Jawaban untuk soal ini sudah dikunci."
	case ErrAutoSaveDisabled:
		return "Simpan otomatis tidak diaktifkan untuk ujian ini."

	// ─── Webhook ───────────────────────────────────────────────────────
	case ErrInvalidSignature:
		return "Tanda tangan webhook tidak valid."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
