package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPretty(t *testing.T) {
	tt := []struct {
		in   interface{}
		want string
	}{
		{in: map[string]int{"a": 1}, want: "{\n  \"a\": 1\n}\n"},
		{in: []string{"<x>"}, want: "[\n  \"<x>\"\n]\n"},
		{in: make(chan int), want: ""},
	}

	for _, test := range tt {
		assert.Equal(t, test.want, ToPretty(test.in))
	}
}
