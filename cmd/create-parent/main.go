package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/database"
	"github.com/fieldday/fieldday-backend/internal/logger"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	parentRepo := repository.NewParentRepository(pool)
	childRepo := repository.NewChildRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Parent Account ===")

	// Name
	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Email
	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	// Hash Password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	newParent := &model.Parent{
		Email:        email,
		Name:         name,
		PasswordHash: string(hashedPassword),
	}

	if err := parentRepo.Create(ctx, newParent); err != nil {
		log.Fatal().Err(err).Msg("Failed to create parent")
	}

	fmt.Printf("\nSuccess! Parent '%s' (%s) created with ID: %d\n", newParent.Name, newParent.Email, newParent.ID)

	// Optional children, comma-separated.
	fmt.Print("Enter children names (comma-separated, blank to skip): ")
	childLine, _ := reader.ReadString('\n')
	for _, childName := range strings.Split(childLine, ",") {
		childName = strings.TrimSpace(childName)
		if childName == "" {
			continue
		}
		child := &model.Child{ParentID: newParent.ID, Name: childName}
		if err := childRepo.Create(ctx, child); err != nil {
			log.Fatal().Err(err).Msg("Failed to create child")
		}
		fmt.Printf("Added child '%s' with ID: %d\n", child.Name, child.ID)
	}
}
