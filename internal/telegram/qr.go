package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgparser/internal/logger"
)

// QRResult is the outcome of a successful QR login.
type QRResult struct {
	// Session is a Telethon string session usable as a Credential.
	Session string
	UserID  int64
	Phone   string
}

// QRLogin authorizes a new user account by QR code. onToken is called with
// every login URL (they rotate about every 30s) until the code is scanned.
// Accounts with 2FA passwords are not supported.
func QRLogin(ctx context.Context, apiID int, apiHash string, onToken func(url string), log *logger.Logger) (*QRResult, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("qr")

	storage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  &dispatcher,
	})

	var res QRResult
	err := client.Run(ctx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(&dispatcher)

		auth, err := client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			log.Info().Msg("telegram: QR token generated")
			onToken(token.URL())
			return nil
		})
		if err != nil {
			return err
		}

		if u, ok := auth.User.(*tg.User); ok {
			res.UserID, res.Phone = u.ID, u.Phone
		}

		data, err := (&session.Loader{Storage: storage}).Load(ctx)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		res.Session, err = EncodeTelethonSession(data)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("QR auth flow failed: %w", err)
	}

	log.Info().Int64("tg_user_id", res.UserID).Msg("telegram: QR auth success")
	return &res, nil
}
