package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestTxSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	actor, err := Fingerprint(base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	payload, _ := json.Marshal(SubmitProposalPayload{Description: "coffee"})
	tx := Tx{
		TxID:      "tx-1",
		Nonce:     "n1",
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Op:        OpSubmitProposal,
		Payload:   payload,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tx.Actor = "someone-else"
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected verify failure after tamper")
	}
}

func TestTxVerifyRejectsPayloadTamper(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload, _ := json.Marshal(CastVotePayload{ProposalID: 0})
	tx := Tx{
		TxID:      "tx-2",
		Nonce:     "n2",
		Timestamp: time.Now().UTC(),
		Actor:     "voter-a",
		Op:        OpCastVote,
		Payload:   payload,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Payload, _ = json.Marshal(CastVotePayload{ProposalID: 1})
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected verify failure after payload tamper")
	}
}

func TestTxValidateBasic(t *testing.T) {
	base := Tx{
		TxID:      "tx-3",
		Nonce:     "n3",
		Timestamp: time.Now().UTC(),
		Actor:     "voter-a",
		Op:        OpStartVoting,
		PublicKey: "pk",
		Signature: "sig",
	}
	if err := base.ValidateBasic(); err != nil {
		t.Fatalf("valid tx rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Tx)
	}{
		{"missing tx id", func(tx *Tx) { tx.TxID = " " }},
		{"missing nonce", func(tx *Tx) { tx.Nonce = "" }},
		{"missing actor", func(tx *Tx) { tx.Actor = "" }},
		{"zero timestamp", func(tx *Tx) { tx.Timestamp = time.Time{} }},
		{"unknown op", func(tx *Tx) { tx.Op = Operation("DELETE_EVERYTHING") }},
		{"missing public key", func(tx *Tx) { tx.PublicKey = "" }},
		{"missing signature", func(tx *Tx) { tx.Signature = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := base
			tc.mutate(&tx)
			if err := tx.ValidateBasic(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(pub)
	first, err := Fingerprint(encoded)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	second, err := Fingerprint(encoded)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint not deterministic: %s vs %s", first, second)
	}
	if len(first) != 16 {
		t.Fatalf("unexpected fingerprint length: %d", len(first))
	}

	other, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherFp, err := Fingerprint(base64.StdEncoding.EncodeToString(other))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if otherFp == first {
		t.Fatalf("distinct keys produced the same fingerprint")
	}

	if _, err := Fingerprint("not-base64!!"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}
