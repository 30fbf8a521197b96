package sweeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/support-chat/internal/audit"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

func TestStart_DisabledWithoutTimeout(t *testing.T) {
	st := store.NewMemory(nil, logger.NewNop())
	sessions := service.NewSessionService(st, audit.Nop{}, logger.NewNop())

	s := New(sessions, "@every 1s", 0, logger.NewNop())
	require.NoError(t, s.Start())
	require.Nil(t, s.cron)
	s.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	st := store.NewMemory(nil, logger.NewNop())
	sessions := service.NewSessionService(st, audit.Nop{}, logger.NewNop())

	s := New(sessions, "not a schedule", time.Minute, logger.NewNop())
	require.Error(t, s.Start())
}

func TestStart_ValidSchedule(t *testing.T) {
	st := store.NewMemory(nil, logger.NewNop())
	sessions := service.NewSessionService(st, audit.Nop{}, logger.NewNop())

	s := New(sessions, "@every 1h", time.Minute, logger.NewNop())
	require.NoError(t, s.Start())
	s.Stop()
}
