package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overunder/internal/domain"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_ArchiveGame(t *testing.T) {
	fake := &fakePutter{}
	a := newS3Archiver(fake, "games-bucket", "devnet/")
	a.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	snap := &Snapshot{
		Game: &domain.Game{ID: 42, OverPot: 1_000_000_000, Winner: domain.SideOver},
		Buys: []*domain.BuyRecord{{ID: 1, GameID: 42, Signature: "s1"}},
	}
	require.NoError(t, a.ArchiveGame(context.Background(), snap))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "games-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "devnet/games/42/settlement.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, int64(len(fake.bodies[0])), aws.ToInt64(in.ContentLength))

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(fake.bodies[0], &decoded))
	assert.Equal(t, int64(42), decoded.Game.ID)
	assert.Equal(t, domain.SideOver, decoded.Game.Winner)
	require.Len(t, decoded.Buys, 1)
	assert.Equal(t, "s1", decoded.Buys[0].Signature)
	assert.True(t, decoded.ArchivedAt.Equal(a.now()))
}

func TestS3Archiver_Errors(t *testing.T) {
	boom := errors.New("access denied")
	a := newS3Archiver(&fakePutter{err: boom}, "b", "")

	err := a.ArchiveGame(context.Background(), &Snapshot{Game: &domain.Game{ID: 1}})
	assert.ErrorIs(t, err, boom)

	assert.Error(t, a.ArchiveGame(context.Background(), &Snapshot{}))
}

func TestNewS3Archiver_Validation(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = NewS3Archiver(context.Background(), S3Config{Bucket: "b"})
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("https://minio.local:9000", false))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("r2.example.com", true))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.ArchiveGame(context.Background(), nil))
}
