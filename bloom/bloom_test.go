package bloom

import (
	"fmt"
	"testing"
)

func TestFilterNoFalseNegatives(t *testing.T) {
	f := NewForEstimate(1000, 0.01)
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%05d", i))
		f.Add(keys[i])
	}
	for _, k := range keys {
		if !f.Contains(k) {
			t.Fatalf("inserted key reported absent: %s", k)
		}
	}
}

func TestFilterFalsePositiveRateWithinBounds(t *testing.T) {
	const n = 2000
	f := NewForEstimate(n, 0.01)
	for i := 0; i < n; i++ {
		f.Add([]byte(fmt.Sprintf("present-%05d", i)))
	}
	falsePositives := 0
	const probes = 20000
	for i := 0; i < probes; i++ {
		if f.Contains([]byte(fmt.Sprintf("absent-%05d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(probes)
	if rate > 0.02 {
		t.Fatalf("false positive rate %.4f exceeds 2x target of 0.01", rate)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewForEstimate(500, 0.02)
	f.Add([]byte("alpha"))
	f.Add([]byte("beta"))

	decoded, ok := Decode(f.Encode())
	if !ok {
		t.Fatal("decode failed")
	}
	if decoded.M() != f.M() || decoded.K() != f.K() {
		t.Fatalf("m/k mismatch: got (%d,%d) want (%d,%d)", decoded.M(), decoded.K(), f.M(), f.K())
	}
	if !decoded.Contains([]byte("alpha")) || !decoded.Contains([]byte("beta")) {
		t.Fatal("decoded filter lost inserted keys")
	}
}

func TestDecodeRejectsMismatchedLength(t *testing.T) {
	f := NewForEstimate(10, 0.1)
	enc := f.Encode()
	truncated := enc[:len(enc)-1]
	if _, ok := Decode(truncated); ok {
		t.Fatal("expected decode failure on truncated buffer")
	}
}

func TestNewForEstimateClampsDegenerateInputs(t *testing.T) {
	f := NewForEstimate(0, 0)
	if f.M() == 0 || f.K() == 0 {
		t.Fatal("expected clamped m/k to be non-zero")
	}
}
