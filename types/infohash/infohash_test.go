package infohash

import (
	"encoding/json"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestHexForms(t *testing.T) {
	h := HashBytes([]byte("hello"))
	qt.Check(t, qt.Equals(h.HexString(), "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"))
	qt.Check(t, qt.Equals(h.ShortString(), "aaf4c61d"))
	parsed, err := Parse(h.HexString())
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(parsed, h))
	_, err = Parse("abc")
	qt.Check(t, qt.IsNotNil(err))
	_, err = Parse("zz" + h.HexString()[2:])
	qt.Check(t, qt.IsNotNil(err))
}

func TestJSONUsesHex(t *testing.T) {
	h := HashBytes([]byte("hello"))
	b, err := json.Marshal(map[string]T{"ih": h})
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(string(b), `{"ih":"aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"}`))
	var back map[string]T
	qt.Assert(t, qt.IsNil(json.Unmarshal(b, &back)))
	qt.Check(t, qt.Equals(back["ih"], h))
}
