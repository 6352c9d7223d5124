package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeConnected(t *testing.T) {
	req := require.New(t)

	frame, err := Encode(TypeConnected, ConnectedData{Status: "good", ConnectionID: "c1", UserID: 1})
	req.NoError(err)

	env, err := Decode(frame)
	req.NoError(err)
	req.Equal(TypeConnected, env.Type)
	req.NotZero(env.Ts)
	req.JSONEq(`{"status":"good","connectionId":"c1","userId":1}`, string(env.Data))
}

func TestEncodeWithoutData(t *testing.T) {
	req := require.New(t)

	frame, err := Encode(TypeAllUsers, nil)
	req.NoError(err)

	var raw map[string]interface{}
	req.NoError(json.Unmarshal(frame, &raw))
	req.NotContains(raw, "data")
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
}
