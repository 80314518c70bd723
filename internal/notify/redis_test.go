package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSender_Publishes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sender := NewRedisSenderFromClient(db, "engine.events")

	e := RegimeChanged("SPY", 0, 1, testNow)
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	mock.ExpectPublish("engine.events", string(payload)).SetVal(1)

	require.NoError(t, sender.Send(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSender_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sender := NewRedisSenderFromClient(db, "")

	e := Lifecycle(EventShutdown, "bye", testNow)
	payload, err := json.Marshal(e)
	require.NoError(t, err)
	mock.ExpectPublish("spread_engine.events", string(payload)).SetErr(errors.New("READONLY"))

	err = sender.Send(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spread_engine.events")
	assert.NoError(t, mock.ExpectationsWereMet())
}
