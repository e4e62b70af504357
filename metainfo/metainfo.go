package metainfo

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/peershare/torrent/bencode"
)

// MetaInfo is the parsed form of a .torrent file. All fields are intended to be read-only after
// loading.
type MetaInfo struct {
	Info Info
	// The exact encoding of the info dictionary, from which the info hash is computed.
	InfoBytes    []byte
	Announce     string
	AnnounceList AnnounceList
	CreationDate time.Time
	Comment      string
	CreatedBy    string
}

// Load a MetaInfo from an io.Reader. Returns a non-nil error in case of failure.
func Load(r io.Reader) (*MetaInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Convenience function for loading a MetaInfo from a file.
func LoadFromFile(filename string) (*MetaInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mi, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", filename)
	}
	return mi, nil
}

func Parse(data []byte) (*MetaInfo, error) {
	v, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	var mi MetaInfo
	d := dictReader{v: v, ctx: "metainfo"}
	infoValue, _ := d.get("info", true)
	mi.Announce = d.string("announce", false)
	if tiers := d.list("announce-list", false); tiers != nil {
		for _, tierValue := range tiers {
			var tier []string
			tierList, err := tierValue.List()
			if err != nil {
				return nil, d.wrap("announce-list", err)
			}
			for _, urlValue := range tierList {
				url, err := urlValue.String()
				if err != nil {
					return nil, d.wrap("announce-list", err)
				}
				tier = append(tier, url)
			}
			mi.AnnounceList = append(mi.AnnounceList, tier)
		}
		mi.AnnounceList = mi.AnnounceList.Dedupe()
	}
	if _, ok := d.get("creation date", false); ok {
		mi.CreationDate = time.Unix(d.int("creation date", false), 0)
	}
	mi.Comment = d.string("comment", false)
	mi.CreatedBy = d.string("created by", false)
	if d.err != nil {
		return nil, d.err
	}
	mi.Info, err = infoFromValue(infoValue)
	if err != nil {
		return nil, err
	}
	mi.InfoBytes = infoValue.Raw()
	return &mi, nil
}

func (mi *MetaInfo) HashInfoBytes() Hash {
	return HashBytes(mi.InfoBytes)
}

// SetInfo replaces the info dictionary, recomputing InfoBytes.
func (mi *MetaInfo) SetInfo(info Info) (err error) {
	b, err := bencode.Marshal(info.Value())
	if err != nil {
		return
	}
	mi.Info = info
	mi.InfoBytes = b
	return
}

// Trackers returns the announce tiers, falling back to the single announce URL.
func (mi *MetaInfo) Trackers() AnnounceList {
	if len(mi.AnnounceList) != 0 {
		return mi.AnnounceList
	}
	if mi.Announce != "" {
		return AnnounceList{{mi.Announce}}
	}
	return nil
}

func (mi *MetaInfo) Value() (bencode.Value, error) {
	info, err := bencode.Unmarshal(mi.InfoBytes)
	if err != nil {
		return bencode.Value{}, errors.Wrap(err, "decoding info bytes")
	}
	d := map[string]bencode.Value{
		"info": info,
	}
	if mi.Announce != "" {
		d["announce"] = bencode.NewString(mi.Announce)
	}
	if len(mi.AnnounceList) != 0 {
		tiers := make([]bencode.Value, 0, len(mi.AnnounceList))
		for _, tier := range mi.AnnounceList {
			urls := make([]bencode.Value, 0, len(tier))
			for _, url := range tier {
				urls = append(urls, bencode.NewString(url))
			}
			tiers = append(tiers, bencode.NewList(urls...))
		}
		d["announce-list"] = bencode.NewList(tiers...)
	}
	if !mi.CreationDate.IsZero() {
		d["creation date"] = bencode.NewInt(mi.CreationDate.Unix())
	}
	if mi.Comment != "" {
		d["comment"] = bencode.NewString(mi.Comment)
	}
	if mi.CreatedBy != "" {
		d["created by"] = bencode.NewString(mi.CreatedBy)
	}
	return bencode.NewDict(d), nil
}

// Encode to bencoded form.
func (mi *MetaInfo) Write(w io.Writer) error {
	v, err := mi.Value()
	if err != nil {
		return err
	}
	return bencode.NewEncoder(w).Encode(v)
}
