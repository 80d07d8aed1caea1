package config

import (
	"testing"
)

// BenchmarkValidateParameters benchmarks trading parameter validation
func BenchmarkValidateParameters(b *testing.B) {
	raw := DefaultParameters()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Validate(raw)
	}
}

// BenchmarkHolder_Current benchmarks the snapshot read path
func BenchmarkHolder_Current(b *testing.B) {
	h := NewHolder(MustDefaultSnapshot(), nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = h.Current()
		}
	})
}
