package comm

import (
	"bytes"
	"io"
	"testing"
	"time"
)

type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestPoolReusesConnections(t *testing.T) {
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return &fakeConn{}, nil
	}
	p := NewPool(1, time.Minute, maker)

	c1, err := p.Get()
	if err != nil {
		t.Fatal(err)
	}
	p.Put(c1)
	c2, err := p.Get()
	if err != nil {
		t.Fatal(err)
	}
	p.Put(c2)
	if made != 1 {
		t.Errorf("expected a single connection to be made, got %d", made)
	}
	if c1 != c2 {
		t.Error("expected the same connection back from the pool")
	}
}

func TestPoolDestroyDropsConnection(t *testing.T) {
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return &fakeConn{}, nil
	}
	p := NewPool(1, time.Minute, maker)

	c1, _ := p.Get()
	p.Destroy(c1)
	if !c1.(*fakeConn).closed {
		t.Error("Destroy must close the connection")
	}
	p.Get()
	if made != 2 {
		t.Errorf("expected a fresh connection after Destroy, makers ran %d times", made)
	}
}

func TestTimeoutRequiresDeadlines(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewTimeout(&buf, time.Second); err != ErrTimeoutUnsupported {
		t.Errorf("expected ErrTimeoutUnsupported, got %v", err)
	}
}
