// Package telegram implements the outbound side-channel on top of telebot.
//
// Unlike a full bot, the relay never consumes updates; the adapter is
// send-only, so no poller is attached and Start/Stop lifecycle is not needed.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "hermes/internal/transport"
	logx "hermes/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(tele.ChatID(to.ChatID), text, sendOpt)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) error {
	d := &tele.Document{
		File:     tele.FromDisk(doc.Path),
		FileName: doc.FileName,
		Caption:  doc.Caption,
	}
	done := make(chan error, 1)
	go func() {
		// Best-effort typing hint; failures here are irrelevant.
		_ = a.bot.Notify(tele.ChatID(to.ChatID), tele.UploadingDocument)
		_, err := a.bot.Send(tele.ChatID(to.ChatID), d, &tele.SendOptions{ParseMode: tele.ModeHTML})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
