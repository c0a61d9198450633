package runner

import "strconv"

// Metadata keys exported by model files.
const (
	MetaMaxContextLen = "get_max_context_len"
	MetaMaxSeqLen     = "get_max_seq_len"
	MetaBOSID         = "get_bos_id"
	MetaEOSIDs        = "get_eos_ids"
	MetaNumEOS        = "get_n_eos"
	MetaVocabSize     = "get_vocab_size"
	MetaUseKVCache    = "use_kv_cache"
)

// EOSIDKey names the i-th end-of-sequence id. The first id lives under
// MetaEOSIDs; MetaNumEOS holds the count.
func EOSIDKey(i int) string {
	if i == 0 {
		return MetaEOSIDs
	}
	return MetaEOSIDs + "." + strconv.Itoa(i)
}

// Metadata holds integer model constants. It is read-only once handed to New.
type Metadata map[string]int64

func (m Metadata) Get(key string) (int64, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) MaxContextLen() int64 {
	return m[MetaMaxContextLen]
}

// BOSID returns the beginning-of-sequence token, if the model declares one.
func (m Metadata) BOSID() (uint64, bool) {
	v, ok := m[MetaBOSID]
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// EOSIDs returns every end-of-sequence id the model declares. Without
// MetaNumEOS a lone MetaEOSIDs entry counts as one id.
func (m Metadata) EOSIDs() []uint64 {
	n, ok := m[MetaNumEOS]
	if !ok {
		if _, has := m[MetaEOSIDs]; has {
			n = 1
		}
	}
	ids := make([]uint64, 0, n)
	for i := range int(n) {
		v, ok := m[EOSIDKey(i)]
		if !ok || v < 0 {
			continue
		}
		ids = append(ids, uint64(v))
	}
	return ids
}
