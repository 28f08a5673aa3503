package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShape(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		threshold int64
		want      Payload
	}{
		{"empty file", 0, 100, Payload{Inline: true, Message: MessageOK}},
		{"below", 99, 100, Payload{Inline: true, Message: MessageOK}},
		{"exactly at threshold", 100, 100, Payload{Inline: true, Message: MessageOK}},
		{"one over", 101, 100, Payload{Inline: false, Message: MessageTooLarge}},
		{"far over", 1 << 40, 100, Payload{Inline: false, Message: MessageTooLarge}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Shape(tt.size, tt.threshold))
		})
	}
}
