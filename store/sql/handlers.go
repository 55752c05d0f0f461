package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// idRecord is a bun model keyed by a string uuid column named id.
type idRecord[R any] interface {
	*R
	idField() *string
}

func (r *storeEntryRecord) idField() *string     { return &r.ID }
func (r *rateLimitStateRecord) idField() *string { return &r.ID }

// recordHandlers wires the repository id accessors for any idRecord.
func recordHandlers[R any, P idRecord[R]]() repository.ModelHandlers[P] {
	id := func(record P) string {
		if (*R)(record) == nil {
			return ""
		}
		return strings.TrimSpace(*record.idField())
	}
	return repository.ModelHandlers[P]{
		NewRecord: func() P {
			return P(new(R))
		},
		GetID: func(record P) uuid.UUID {
			parsed, err := uuid.Parse(id(record))
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record P, value uuid.UUID) {
			if (*R)(record) != nil {
				*record.idField() = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: id,
	}
}

func storeEntryHandlers() repository.ModelHandlers[*storeEntryRecord] {
	return recordHandlers[storeEntryRecord]()
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return recordHandlers[rateLimitStateRecord]()
}
