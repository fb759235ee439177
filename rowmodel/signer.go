package rowmodel

import (
	"crypto/ed25519"
	"fmt"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/schema"
)

// Signer signs and verifies rows against the declared entity's current
// field order.
type Signer struct {
	registry *schema.Registry
}

func NewSigner(registry *schema.Registry) *Signer {
	return &Signer{registry: registry}
}

// Sign canonically encodes r (which must already have ID/RoomID/MDate/
// Author/Entity/SchemaVersion/Fields populated) and sets its Signature.
func (s *Signer) Sign(priv ed25519.PrivateKey, r *Row) error {
	entity, ok := s.registry.Resolve(r.Entity, r.SchemaVersion)
	if !ok {
		return errs.WithKind(fmt.Errorf("unknown entity %s at schema version %d", r.Entity, r.SchemaVersion), errs.SchemaViolation)
	}
	enc, err := CanonicalEncode(entity, r)
	if err != nil {
		return errs.WithKind(err, errs.SchemaViolation)
	}
	r.Signature = ed25519.Sign(priv, enc)
	return nil
}

// Verify re-derives r's canonical encoding and checks Signature against
// Author: a row is accepted only if its signature verifies under its
// claimed author. It does not check authorization — that is the room
// package's responsibility.
func (s *Signer) Verify(r *Row) error {
	entity, ok := s.registry.Resolve(r.Entity, r.SchemaVersion)
	if !ok {
		return errs.WithKind(fmt.Errorf("unknown schema version %d for entity %s", r.SchemaVersion, r.Entity), errs.SchemaViolation)
	}
	if len(r.Author) != ed25519.PublicKeySize {
		return errs.WithKind(fmt.Errorf("malformed author key"), errs.InvalidSignature)
	}
	if err := checkRequiredFields(entity, r); err != nil {
		return errs.WithKind(err, errs.SchemaViolation)
	}
	enc, err := CanonicalEncode(entity, r)
	if err != nil {
		return errs.WithKind(err, errs.SchemaViolation)
	}
	if !ed25519.Verify(r.Author, enc, r.Signature) {
		return errs.WithKind(fmt.Errorf("signature does not verify for row %s/%s", r.RoomID, r.ID), errs.InvalidSignature)
	}
	return nil
}

func checkRequiredFields(entity *schema.EntityDecl, r *Row) error {
	if r.Deleted {
		// Tombstones retain only id/room_id/author/mdate/signature/deleted;
		// declared fields are not required.
		return nil
	}
	for _, fd := range entity.Fields {
		v, present := r.Fields[fd.Name]
		if !present || v.Null {
			if !fd.Type.Nullable && fd.Type.Default == nil {
				return fmt.Errorf("required field %s missing", fd.Name)
			}
		}
	}
	return nil
}
