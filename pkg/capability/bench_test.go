package capability

import (
	"context"
	"fmt"
	"testing"
)

func benchRegistry(b *testing.B, handlers int) *Registry {
	b.Helper()
	regs := make([]Registration, 0, handlers)
	for i := 0; i < handlers; i++ {
		sel := csharp
		if i%2 == 1 {
			sel = Selector{Pattern: fmt.Sprintf("**/*.ext%d", i)}
		}
		regs = append(regs, RegisterFunc("gotodefinition", answer(fmt.Sprint(i)), WithSelector(sel)))
	}
	reg, err := NewComposer().Build(context.Background(), NewContainer(), Source{Name: "bench", Registrations: regs})
	if err != nil {
		b.Fatal(err)
	}
	return reg
}

func BenchmarkRegistry(b *testing.B) {
	for _, n := range []int{1, 10, 100} {
		reg := benchRegistry(b, n)
		contract := ContractOf[defRequest, *defResponse]()
		req := defRequest{URI: "file:///work/src/Program.cs", Language: "csharp"}

		b.Run(fmt.Sprintf("Query/%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = reg.Query(contract)
			}
		})

		b.Run(fmt.Sprintf("QueryBySelector/%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = reg.QueryFor(contract, req)
			}
		})

		b.Run(fmt.Sprintf("Dispatch/%d", n), func(b *testing.B) {
			ctx := context.Background()
			handlers := reg.QueryFor(contract, req)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Dispatch[defRequest, *defResponse](ctx, handlers, req); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("ConcurrentQuery/%d", n), func(b *testing.B) {
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_ = reg.QueryFor(contract, req)
				}
			})
		})
	}
}
