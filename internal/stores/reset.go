package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetRecordVersionV1 = 1

var (
	ErrResetNotFound         = errors.New("reset grant not found")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// ResetRecord is a pending password reset grant. Only the hash of the
// reset secret is stored.
type ResetRecord struct {
	PrincipalID string
	SecretHash  [32]byte
	ExpiresAt   int64
	Attempts    uint16
}

// ResetStore persists password reset grants in Redis.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewResetStore creates a [ResetStore]. prefix defaults to "rst".
func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "rst"
	}
	return &ResetStore{redis: redisClient, prefix: prefix}
}

func (s *ResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

// Save stores a reset grant under resetID for ttl.
func (s *ResetStore) Save(ctx context.Context, resetID string, record *ResetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(resetID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Consume redeems a reset grant. On a correct secret the record is
// deleted and returned, so a grant redeems at most once. A wrong secret
// increments the attempt counter; exceeding maxAttempts destroys the
// grant. The read-check-write cycle runs under WATCH so concurrent
// redeemers race safely.
func (s *ResetStore) Consume(
	ctx context.Context,
	resetID string,
	providedHash [32]byte,
	maxAttempts int,
) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				return deleteAndReturn(ctx, tx, key, ErrResetNotFound)
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					return deleteAndReturn(ctx, tx, key, ErrResetAttemptsExceeded)
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					return deleteAndReturn(ctx, tx, key, ErrResetNotFound)
				}

				updated, err := encodeResetRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetSecretMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound),
				errors.Is(err, ErrResetSecretMismatch),
				errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrResetNotFound
}

// Invalidate drops a pending grant, used when a newer grant supersedes it.
func (s *ResetStore) Invalidate(ctx context.Context, resetID string) error {
	if err := s.redis.Del(ctx, s.key(resetID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

func deleteAndReturn(ctx context.Context, tx *redis.Tx, key string, result error) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

func encodeResetRecord(record *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("reset record principal id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &ResetRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in reset record")
	}

	return record, nil
}
