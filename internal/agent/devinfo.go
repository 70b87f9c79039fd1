package agent

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	"github.com/dougneal/stonith-rackspace/internal/provider"
)

// Device identification reported by the getinfo-* operations.
const (
	DeviceID          = "STONITH via Rackspace Cloud API"
	DeviceName        = DeviceID
	DeviceDescription = DeviceID
	DeviceURL         = "http://www.rackspace.com/"
)

// ConfigNames are the variables reported by getconfignames, in order
var ConfigNames = []string{
	fencing.EnvRegion,
	fencing.EnvUsername,
	fencing.EnvAPIKey,
	fencing.EnvServerName,
}

type parameterList struct {
	XMLName    xml.Name    `xml:"parameters"`
	Parameters []parameter `xml:"parameter"`
}

type parameter struct {
	Name      string      `xml:"name,attr"`
	Unique    int         `xml:"unique,attr"`
	Required  int         `xml:"required,attr"`
	Content   contentType `xml:"content"`
	ShortDesc description `xml:"shortdesc"`
	LongDesc  description `xml:"longdesc"`
}

type contentType struct {
	Type string `xml:"type,attr"`
}

type description struct {
	Lang string `xml:"lang,attr"`
	Text string `xml:",chardata"`
}

func param(name string, required bool, short, long string) parameter {
	p := parameter{
		Name:      name,
		Content:   contentType{Type: "string"},
		ShortDesc: description{Lang: "en", Text: short},
		LongDesc:  description{Lang: "en", Text: long},
	}
	if required {
		p.Required = 1
	}
	return p
}

var parameters = parameterList{
	Parameters: []parameter{
		param("rsc_username", true, "Account username",
			"Username of the cloud account that owns the cluster nodes."),
		param("rsc_apikey", true, "API key",
			"API key for the account. For the hetzner provider this is the project API token."),
		param("rsc_region", true, "Region",
			"Region the cluster nodes run in, e.g. LON, DFW, ORD or IAD. For the hetzner provider, a location or network zone."),
		param("rsc_authurl", false, "Identity endpoint",
			"Override of the identity service URL. Defaults to "+provider.DefaultRackspaceAuthURL+"."),
		param("rsc_servername", false, "Server name",
			"Name of this node's server as known to the provider."),
		param("rsc_provider", false, "Compute provider",
			"Compute API to fence through: rackspace (default) or hetzner."),
	},
}

// ParameterXML renders the parameter schema returned by getinfo-xml
func ParameterXML() (string, error) {
	out, err := xml.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render parameter schema: %w", err)
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	b.Write(out)
	b.WriteString("\n")
	return b.String(), nil
}
