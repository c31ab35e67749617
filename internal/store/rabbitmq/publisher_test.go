package rabbitmq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/aiverse/internal/email"
)

func TestDecodeMail(t *testing.T) {
	in := email.Mail{To: "a@b.com", Subject: "Email Verification Code", Body: "123456"}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeMail(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeMail([]byte("{"))
	assert.Error(t, err)
}

func TestDecodeMail_RequiresRecipient(t *testing.T) {
	_, err := DecodeMail([]byte(`{"subject":"x","body":"y"}`))
	assert.Error(t, err)
}
