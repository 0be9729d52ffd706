package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// fakeS3 is an in-memory S3 backend.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	st := NewS3(fake, "meetings", "huddle")
	ctx := context.Background()

	loc, err := st.Put(ctx, "m1/transcript.json", strings.NewReader("[]"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := "s3://meetings/huddle/m1/transcript.json"; loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}
	if got := fake.types["huddle/m1/transcript.json"]; got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}

	rc, err := st.Get(ctx, "m1/transcript.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	if got, _ := io.ReadAll(rc); string(got) != "[]" {
		t.Errorf("content = %q, want []", got)
	}
}

func TestS3Store_NoPrefix(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	st := NewS3(fake, "b", "")
	if _, err := st.Put(context.Background(), "k.bin", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["k.bin"]; !ok {
		t.Errorf("objects = %v, want key k.bin", fake.objects)
	}
}

func TestS3Store_GetMissing(t *testing.T) {
	t.Parallel()
	st := NewS3(newFakeS3(), "b", "")
	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestS3Store_PutError(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	boom := errors.New("access denied")
	fake.putErr = boom
	st := NewS3(fake, "b", "")
	if _, err := st.Put(context.Background(), "k", strings.NewReader("x")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if _, err := st.Put(context.Background(), "../k", strings.NewReader("x")); err == nil {
		t.Error("Put with escaping key succeeded, want error")
	}
}
