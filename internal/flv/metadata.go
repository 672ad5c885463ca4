package flv

import (
	"github.com/nareix/joy4/format/flv/flvio"
	"github.com/pkg/errors"
)

// OnMetaData is the name of the script tag that carries stream metadata
const OnMetaData = "onMetaData"

// RawMetaData holds the key/value pairs of an onMetaData script tag
type RawMetaData map[string]interface{}

// Number returns the numeric value stored under key
func (m RawMetaData) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String returns the string value stored under key
func (m RawMetaData) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// ParseScriptData decodes the body of a script tag into its name and metadata map
func ParseScriptData(b []byte) (name string, meta RawMetaData, err error) {
	val, n, err := flvio.ParseAMF0Val(b)
	if err != nil {
		return "", nil, errors.Wrap(err, "flv: script name")
	}
	name, ok := val.(string)
	if !ok {
		return "", nil, errors.New("flv: script name is not a string")
	}
	val, _, err = flvio.ParseAMF0Val(b[n:])
	if err != nil {
		return name, nil, errors.Wrapf(err, "flv: script %s", name)
	}
	meta = make(RawMetaData)
	switch obj := val.(type) {
	case flvio.AMFECMAArray:
		for k, v := range obj {
			meta[k] = v
		}
	case flvio.AMFMap:
		for k, v := range obj {
			meta[k] = v
		}
	default:
		return name, nil, errors.Errorf("flv: script %s has no property map", name)
	}
	return name, meta, nil
}
