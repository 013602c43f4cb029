package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubefabric/reactor/pkg/resource"
)

func TestNamespacePatternListEmptyDefaultsToEverything(t *testing.T) {
	patterns := namespacePatternList("")
	assert.Equal(t, []resource.NamespacePattern{resource.EmptyNamespacePattern()}, patterns)
}

func TestNamespacePatternListSplitsAndTrims(t *testing.T) {
	patterns := namespacePatternList(" team-a , team-b,team-c ")
	assert.Len(t, patterns, 3)
}

func TestNamespacePatternListBlankEntriesDropped(t *testing.T) {
	patterns := namespacePatternList(" , ,")
	assert.Equal(t, []resource.NamespacePattern{resource.EmptyNamespacePattern()}, patterns)
}

func TestPeeringSettingsReflectsFlagVars(t *testing.T) {
	peeringName, priority, standalone, mandatory, stealth = "my-peering", 7, true, true, true
	clusterScoped = true
	defer func() {
		peeringName, priority, standalone, mandatory, stealth = "default", 0, false, false, false
		clusterScoped = false
	}()

	settings := peeringSettings()
	assert.Equal(t, "my-peering", settings.Name)
	assert.Equal(t, 7, settings.Priority)
	assert.True(t, settings.Standalone)
	assert.True(t, settings.Mandatory)
	assert.True(t, settings.Stealth)
	assert.True(t, settings.ClusterWide)
	assert.False(t, settings.Namespaced)
}

func TestAdmissionSettingsReflectsFlagVars(t *testing.T) {
	webhookTunnel, webhookHost, webhookPort, webhookPath = "ngrok", "0.0.0.0", 8443, "/webhook"
	ngrokToken = "tok"
	defer func() {
		webhookTunnel, webhookHost, webhookPort, webhookPath = "", "", 0, "/"
		ngrokToken = ""
	}()

	settings := admissionSettings()
	assert.Equal(t, "ngrok", settings.Tunnel)
	assert.Equal(t, "0.0.0.0", settings.Host)
	assert.Equal(t, 8443, settings.Port)
	assert.Equal(t, "/webhook", settings.Path)
	assert.Equal(t, "tok", settings.NgrokToken)
}

func TestLongDescTrimsAndDedentsHeredoc(t *testing.T) {
	got := LongDesc(`
		first line
		second line`)
	assert.Equal(t, "first line\nsecond line", got)
}

func TestLongDescEmptyStaysEmpty(t *testing.T) {
	assert.Equal(t, "", LongDesc(""))
}
