package mongo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	driver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/mongo"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"network", driver.CommandError{Labels: []string{"NetworkError"}}, true},
		{"retryable write", driver.CommandError{Labels: []string{"RetryableWriteError"}}, true},
		{"transient transaction", driver.CommandError{Labels: []string{"TransientTransactionError"}}, true},
		{"deadline", context.DeadlineExceeded, false},
		{"command", driver.CommandError{Code: 2, Message: "bad value"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mongo.Classify(tt.err)
			assert.Equal(t, tt.transient, kv.IsTransient(got))
		})
	}
}
