package primcodec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value any
	}{
		{"bit true", Bit, true},
		{"bit false", Bit, false},
		{"character", Character, int32('Q')},
		{"uint8", Uint8, uint8(200)},
		{"int8 negative", Int8, int8(-100)},
		{"uint16", Uint16, uint16(60000)},
		{"int16 negative", Int16, int16(-30000)},
		{"uint32", Uint32, uint32(4_000_000_000)},
		{"int32 negative", Int32, int32(-2_000_000_000)},
		{"uint64", Uint64, uint64(18_000_000_000_000_000_000)},
		{"int64 negative", Int64, int64(-9_000_000_000_000_000_000)},
		{"float32", Float32, float32(3.5)},
		{"float64", Float64, float64(-2.25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.value, tt.kind, PolicyNone)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(buf) != SizeBytes(tt.kind) {
				t.Fatalf("buf length = %d, want %d", len(buf), SizeBytes(tt.kind))
			}
			got := Decode(buf, tt.kind)
			if got != tt.value {
				t.Fatalf("Decode round-trip = %v, want %v", got, tt.value)
			}
		})
	}
}

func TestEncodeOverflowPolicyNoneErrors(t *testing.T) {
	if _, err := Encode(int64(300), Uint8, PolicyNone); err == nil {
		t.Fatal("expected an error encoding 300 into a uint8 with PolicyNone")
	}
}

func TestEncodeSaturating(t *testing.T) {
	buf, err := Encode(int64(300), Uint8, Saturating)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := Decode(buf, Uint8); got != uint8(255) {
		t.Fatalf("saturated uint8 = %v, want 255", got)
	}

	buf, err = Encode(int64(-5), Uint8, Saturating)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := Decode(buf, Uint8); got != uint8(0) {
		t.Fatalf("saturated uint8 = %v, want 0", got)
	}
}

func TestEncodeWrapping(t *testing.T) {
	buf, err := Encode(int64(256+42), Uint8, Wrapping)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := Decode(buf, Uint8); got != uint8(42) {
		t.Fatalf("wrapped uint8 = %v, want 42", got)
	}
}

func TestSizeBytesEveryKind(t *testing.T) {
	want := map[Kind]int{
		Bit: 1, Character: 4, Uint8: 1, Int8: 1, Uint16: 2, Int16: 2,
		Uint32: 4, Int32: 4, Uint64: 8, Int64: 8, Uint128: 16, Int128: 16,
		Float16: 2, Float32: 4, Float64: 8,
	}
	for _, k := range Names {
		if got := SizeBytes(k); got != want[k] {
			t.Errorf("SizeBytes(%s) = %d, want %d", k, got, want[k])
		}
	}
}

func TestIsFloat(t *testing.T) {
	for _, k := range []Kind{Float16, Float32, Float64} {
		if !IsFloat(k) {
			t.Errorf("IsFloat(%s) = false, want true", k)
		}
	}
	for _, k := range []Kind{Bit, Uint8, Int64} {
		if IsFloat(k) {
			t.Errorf("IsFloat(%s) = true, want false", k)
		}
	}
}
