package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/service"
)

// issue-token mints a JWT signed with JWT_SECRET for local testing and
// operator tooling. Production tokens come from the identity service.
func main() {
	kind := flag.String("type", "student", "Token type: student or staff")
	userID := flag.Int("user", 0, "User ID")
	perms := flag.String("perms", "all", "Staff permissions, comma separated, or \"all\"")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		os.Exit(2)
	}

	var tokenType service.TokenType
	switch *kind {
	case "student":
		tokenType = service.TokenTypeStudent
	case "staff":
		tokenType = service.TokenTypeStaff
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown token type %q\n", *kind)
		os.Exit(2)
	}

	permissions, err := parsePermissions(*perms)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg := config.Load()
	token, err := service.NewAuthService(cfg).IssueToken(tokenType, *userID, permissions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func parsePermissions(raw string) ([]string, error) {
	known := make(map[string]bool, len(model.AllPermissions))
	all := make([]string, 0, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		known[string(p)] = true
		all = append(all, string(p))
	}
	if raw == "all" {
		return all, nil
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !known[p] {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}
