package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/database"
	"github.com/stemsi/exstem-guard/internal/logger"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/service"
	"golang.org/x/term"
)

// hash-exam-password replaces an exam's plaintext password with a bcrypt hash.
// StartExam accepts both forms.
func main() {
	examIDFlag := flag.String("exam", "", "Exam ID")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	examID, err := uuid.Parse(*examIDFlag)
	if err != nil {
		fmt.Println("Error: -exam must be a valid exam ID")
		os.Exit(2)
	}

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	exams := repository.NewExamRepository(pool)
	exam, err := exams.GetByID(ctx, examID)
	if err != nil {
		log.Fatal().Err(err).Str("exam_id", examID.String()).Msg("Exam not found")
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Printf("=== Set password for %q ===\n", exam.Title)

	fmt.Print("Enter Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	fmt.Print("Repeat Password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	if string(first) != string(second) {
		fmt.Println("Error: Passwords do not match")
		return
	}
	if len(first) < 4 {
		fmt.Println("Error: Password must be at least 4 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hashed, err := service.NewAuthService(cfg).HashPassword(string(first))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	if err := exams.UpdatePassword(ctx, examID, hashed); err != nil {
		log.Fatal().Err(err).Msg("Failed to store password")
	}

	fmt.Printf("\nSuccess! Password for exam %s updated.\n", examID)
}
