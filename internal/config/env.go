package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvChatID   = "NOTIFICATION_CHAT_ID"
	EnvThreadID = "NOTIFICATION_THREAD_ID"
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
)

var ErrNoChatID = errors.New(EnvChatID + " is not set")

// Env holds the process-environment part of the configuration.
type Env struct {
	ChatID   int64
	ThreadID int
	BotToken string
}

// LoadDotenv loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set win.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadEnv reads the broadcast destination and token. The chat id is
// required; getenv is os.Getenv outside tests.
func ReadEnv(getenv func(string) string) (Env, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var env Env
	raw := strings.TrimSpace(getenv(EnvChatID))
	if raw == "" {
		return Env{}, ErrNoChatID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return Env{}, fmt.Errorf("%s: invalid chat id %q", EnvChatID, raw)
	}
	env.ChatID = id

	if rawThread := strings.TrimSpace(getenv(EnvThreadID)); rawThread != "" {
		tid, err := strconv.Atoi(rawThread)
		if err != nil || tid < 0 {
			return Env{}, fmt.Errorf("%s: invalid thread id %q", EnvThreadID, rawThread)
		}
		env.ThreadID = tid
	}
	env.BotToken = strings.TrimSpace(getenv(EnvBotToken))
	return env, nil
}
