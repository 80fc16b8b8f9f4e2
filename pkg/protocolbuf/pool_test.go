package protocolbuf

import (
	"testing"
)

func TestGetBuffer_Empty(t *testing.T) {
	buf := GetBuffer()
	if len(*buf) != 0 {
		t.Fatalf("len = %d, want 0", len(*buf))
	}
	*buf = append(*buf, "hello"...)
	PutBuffer(buf)

	again := GetBuffer()
	if len(*again) != 0 {
		t.Errorf("reused buffer not reset: %q", *again)
	}
	PutBuffer(again)
}

func TestPutBuffer_Nil(t *testing.T) {
	PutBuffer(nil)
}

func TestPutBuffer_DropsOversized(t *testing.T) {
	big := make([]byte, 0, maxPooled+1)
	PutBuffer(&big)
	if cap(big) != maxPooled+1 {
		t.Errorf("oversized buffer modified")
	}
}

func BenchmarkGetPut(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		*buf = append(*buf, "*1\r\n$4\r\nPING\r\n"...)
		PutBuffer(buf)
	}
}
