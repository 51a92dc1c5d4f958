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

const challengeRecordVersionV1 = 1

var (
	ErrChallengeNotFound         = errors.New("mfa challenge not found")
	ErrChallengeCodeMismatch     = errors.New("mfa code mismatch")
	ErrChallengeAttemptsExceeded = errors.New("mfa attempts exceeded")
	ErrChallengeRedisUnavailable = errors.New("mfa challenge redis unavailable")
)

// CodeMismatchError reports a rejected code and carries the challenge
// owner so the failure can be charged to the principal. It matches
// [ErrChallengeCodeMismatch], or [ErrChallengeAttemptsExceeded] when
// the attempt budget is spent.
type CodeMismatchError struct {
	PrincipalID string
	Exceeded    bool
}

func (e *CodeMismatchError) Error() string {
	if e.Exceeded {
		return ErrChallengeAttemptsExceeded.Error()
	}
	return ErrChallengeCodeMismatch.Error()
}

func (e *CodeMismatchError) Is(target error) bool {
	if e.Exceeded {
		return target == ErrChallengeAttemptsExceeded
	}
	return target == ErrChallengeCodeMismatch
}

// ChallengeRecord is a pending second-factor challenge issued after a
// successful password check. Only the hash of the delivered code is
// stored.
type ChallengeRecord struct {
	PrincipalID string
	CodeHash    [32]byte
	ExpiresAt   int64
	Attempts    uint16
}

// ChallengeStore persists pending MFA challenges in Redis.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore creates a [ChallengeStore]. prefix defaults to "mfc".
func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "mfc"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save stores a challenge under challengeID for ttl.
func (s *ChallengeStore) Save(ctx context.Context, challengeID string, record *ChallengeRecord, ttl time.Duration) error {
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Consume verifies the provided code hash against the challenge. A
// correct code deletes the challenge and returns the record; a wrong
// code burns one attempt, and exceeding maxAttempts destroys the
// challenge. The cycle runs under WATCH so a code never redeems twice.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	challengeID string,
	providedHash [32]byte,
	maxAttempts int,
) (*ChallengeRecord, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var matched *ChallengeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				return deleteAndReturn(ctx, tx, key, ErrChallengeNotFound)
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					return deleteAndReturn(ctx, tx, key, &CodeMismatchError{
						PrincipalID: record.PrincipalID,
						Exceeded:    true,
					})
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					return deleteAndReturn(ctx, tx, key, ErrChallengeNotFound)
				}

				updated, err := encodeChallengeRecord(record)
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
				return &CodeMismatchError{PrincipalID: record.PrincipalID}
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
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeNotFound),
				errors.Is(err, ErrChallengeCodeMismatch),
				errors.Is(err, ErrChallengeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrChallengeNotFound
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("challenge record principal id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
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

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in challenge record")
	}

	return record, nil
}
