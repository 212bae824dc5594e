package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {

	b := Backoff{Initial: time.Second, Max: 10 * time.Second}

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, b.Next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, delays)
	assert.Equal(t, 6, b.Attempts())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffManyAttempts(t *testing.T) {

	b := Backoff{Initial: time.Second, Max: time.Hour}
	for i := 0; i < 200; i++ {
		d := b.Next()
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Hour)
	}
}
