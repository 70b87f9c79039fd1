package agent

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseSchema decodes a getinfo-xml document into name -> required
func parseSchema(t *testing.T, doc string) map[string]bool {
	t.Helper()

	var list parameterList
	require.NoError(t, xml.Unmarshal([]byte(doc), &list))

	out := make(map[string]bool, len(list.Parameters))
	for _, p := range list.Parameters {
		out[p.Name] = p.Required == 1
	}
	return out
}

func TestParameterXML(t *testing.T) {
	doc, err := ParameterXML()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, doc, `<parameter name="rsc_username" unique="0" required="1">`)
	assert.Contains(t, doc, `<content type="string"></content>`)
	assert.Contains(t, doc, `<shortdesc lang="en">Account username</shortdesc>`)

	required := parseSchema(t, doc)
	assert.Equal(t, map[string]bool{
		"rsc_username":   true,
		"rsc_apikey":     true,
		"rsc_region":     true,
		"rsc_authurl":    false,
		"rsc_servername": false,
		"rsc_provider":   false,
	}, required)
}

func TestParameterXML_WellFormed(t *testing.T) {
	doc, err := ParameterXML()
	require.NoError(t, err)

	decoder := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := decoder.Token()
		if err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}
}

func TestOperation_Recognized(t *testing.T) {
	for _, op := range Operations {
		assert.True(t, op.Recognized(), op)
	}
	for _, op := range []Operation{"", "off", "Reset", "getinfo"} {
		assert.False(t, op.Recognized(), op)
	}
}
