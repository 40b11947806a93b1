// Command tg-session logs a Telegram account in by QR code, stores the
// session for a service user and prints an API token for that user.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tgparser/internal/auth"
	"github.com/blockedby/tgparser/internal/config"
	"github.com/blockedby/tgparser/internal/database"
	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/repository"
	"github.com/blockedby/tgparser/internal/telegram"
)

func main() {
	email := flag.String("email", "", "service user to attach the session to")
	create := flag.Bool("create", false, "create the user (with parsing enabled) if it does not exist")
	printOnly := flag.Bool("print", false, "print the session string instead of storing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		fail("init logger: %v", err)
	}
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		fail("TG_API_ID and TG_API_HASH are required")
	}
	if !*printOnly && strings.TrimSpace(*email) == "" {
		fail("-email is required unless -print is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("=== telegram session tool ===")
	fmt.Println("scan the code with telegram: settings > devices > link desktop device")
	fmt.Println()

	res, err := telegram.QRLogin(ctx, cfg.TGApiID, cfg.TGApiHash, func(url string) {
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println("waiting for scan... (the code refreshes every 30s)")
	}, logger.Get())
	if err != nil {
		fail("login: %v", err)
	}
	fmt.Printf("\n✓ logged in as telegram user %d\n", res.UserID)

	if *printOnly {
		fmt.Println("\nyour session string:")
		fmt.Println("---")
		fmt.Println(res.Session)
		fmt.Println("---")
		fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
		return
	}

	if err := store(ctx, cfg, strings.TrimSpace(*email), *create, res); err != nil {
		fail("%v", err)
	}
}

func store(ctx context.Context, cfg *config.Config, email string, create bool, res *telegram.QRResult) error {
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if !db.IsPostgres() {
		if err := repository.AutoMigrate(db.GORM); err != nil {
			return err
		}
	}
	repo := repository.New(db.GORM)

	u, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		if !create {
			return fmt.Errorf("user %s not found (use -create)", email)
		}
		u = &models.User{Email: email, IsActive: true, CanParse: true}
		if err := repo.CreateUser(ctx, u); err != nil {
			return err
		}
		fmt.Printf("created user %s (id %d)\n", u.Email, u.ID)
	}

	phone := res.Phone
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	sess := &models.TelegramSession{
		UserID:        u.ID,
		Phone:         phone,
		SessionString: res.Session,
		IsActive:      true,
	}
	if err := repo.CreateSession(ctx, sess); err != nil {
		return err
	}
	fmt.Printf("stored session %d as the active session of %s\n", sess.ID, u.Email)

	if cfg.JWTSecret == "" {
		fmt.Println("JWT_SECRET is not set, no API token issued")
		return nil
	}
	token, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL).Sign(u)
	if err != nil {
		return err
	}
	fmt.Println("\nAPI token (Authorization: Bearer ...):")
	fmt.Println(token)
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
