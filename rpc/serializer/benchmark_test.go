package serializer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/nkv/rpc/common"
)

// benchCase is one message shape exchanged between an RPC device and the server
type benchCase struct {
	name string
	msg  *common.Message
}

// benchCases mirrors the traffic of a remote path: small requests, value transfers and listing pages
func benchCases() []benchCase {
	page := make([]string, 256)
	for i := range page {
		page[i] = fmt.Sprintf("data/dir-%03d/file-%05d", i%16, i)
	}

	return []benchCase{
		{"ExistsRequest", common.NewExistsRequest("k")},
		{"ExistsResponse", common.NewExistsResponse(true, nil)},
		{"RetrieveRequest", common.NewRetrieveRequest("photos/2024/summer/IMG_0042.jpg", 4096)},
		{"Store64B", common.NewStoreRequest("key", make([]byte, 64), false)},
		{"Store1KB", common.NewStoreRequest("key", make([]byte, 1<<10), false)},
		{"Retrieve16KB", common.NewRetrieveResponse(make([]byte, 16<<10), 16<<10, nil)},
		{"ListRangeRequest", common.NewListRangeRequest("data/", "data/dir-003/file-00019", 256)},
		{"ListRangePage", common.NewListRangeResponse(page, true, nil)},
		{"ErrorResponse", common.NewDeleteResponse(errors.New("key does not exist: photos/2024/summer/IMG_0042.jpg"))},
	}
}

func BenchmarkSerialize(b *testing.B) {
	for _, bc := range benchCases() {
		for name, factory := range testSerializers {
			s := factory()
			b.Run(bc.name+"/"+name, func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := s.Serialize(*bc.msg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkDeserialize(b *testing.B) {
	for _, bc := range benchCases() {
		for name, factory := range testSerializers {
			s := factory()
			data, err := s.Serialize(*bc.msg)
			if err != nil {
				b.Fatalf("%s/%s: %v", bc.name, name, err)
			}
			b.Run(bc.name+"/"+name, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(data)))
				var msg common.Message
				for i := 0; i < b.N; i++ {
					if err := s.Deserialize(data, &msg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkEncodedSize reports the wire size of every case as a custom metric
func BenchmarkEncodedSize(b *testing.B) {
	for _, bc := range benchCases() {
		for name, factory := range testSerializers {
			data, err := factory().Serialize(*bc.msg)
			if err != nil {
				b.Fatalf("%s/%s: %v", bc.name, name, err)
			}
			b.Run(bc.name+"/"+name, func(b *testing.B) {
				b.ReportMetric(float64(len(data)), "bytes")
			})
		}
	}
}
