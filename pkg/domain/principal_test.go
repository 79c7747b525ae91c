package domain

import "testing"

func TestNewSessionDefaultsActorSubject(t *testing.T) {
	principal := Principal{Subject: "u-1", Role: RoleManager, FactoryIDs: []string{"f-1"}}
	session := NewSession(principal, Actor{IP: "10.0.0.5"})
	if session.Actor.Subject != "u-1" {
		t.Fatalf("expected actor subject to default to principal subject, got %q", session.Actor.Subject)
	}
	if session.Actor.IP != "10.0.0.5" {
		t.Fatalf("expected actor ip to survive, got %q", session.Actor.IP)
	}
}

func TestNewSessionKeepsExplicitActor(t *testing.T) {
	session := NewSession(Principal{Subject: "svc"}, Actor{Subject: "impersonated", UserAgent: "cli"})
	if session.Actor.Subject != "impersonated" {
		t.Fatalf("expected explicit actor subject to win, got %q", session.Actor.Subject)
	}
}
