package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"tosca/fridge/events", false},
		{"a", false},
		{"", true},
		{"tosca/+/events", true},
		{"tosca/#", true},
		{"bad\x00topic", true},
		{strings.Repeat("a", maxTopicLength+1), true},
		{string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopic(%.20q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateTopic(%.20q) error = %v, want ErrInvalidTopic", tt.topic, err)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"tosca/fridge/events", false},
		{"tosca/+/events", false},
		{"tosca/#", false},
		{"#", false},
		{"+", false},
		{"", true},
		{"tosca/#/events", true},
		{"tosca/fri+dge/events", true},
		{"tosca/events#", true},
	}

	for _, tt := range tests {
		if err := ValidateFilter(tt.filter); (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"tosca/fridge/events", "tosca/fridge/events", true},
		{"tosca/+/events", "tosca/fridge/events", true},
		{"tosca/+/events", "tosca/fridge/state", false},
		{"tosca/#", "tosca/fridge/events", true},
		{"tosca/#", "tosca", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"tosca/+", "tosca/fridge/events", false},
		{"tosca/fridge/events/x", "tosca/fridge/events", false},
	}

	for _, tt := range tests {
		if got := Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
