package main

import "testing"

func TestValidateFlagsRequiresProtocols(t *testing.T) {
	if err := validateFlags(""); err == nil {
		t.Fatalf("expected an error when --protocols is unset")
	}
}

func TestValidateFlagsAcceptsProtocolsPath(t *testing.T) {
	if err := validateFlags("protocols.yaml"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
