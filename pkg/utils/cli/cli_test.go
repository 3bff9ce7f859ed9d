package cli

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2/textlogger"
)

func TestAddKubectlFlagsToSet(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("namespace", "nixbuilder", "")

	clientConfig := AddKubectlFlagsToSet(flags)

	require.NotNil(t, clientConfig)
	assert.NotNil(t, flags.Lookup("kubeconfig"))
	assert.NotNil(t, flags.Lookup("context"))
	assert.NotNil(t, flags.Lookup("server"))
	require.NoError(t, flags.Parse([]string{"--server", "https://127.0.0.1:6443", "--namespace", "team-a"}))

	config, err := clientConfig.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:6443", config.Host)
}

func TestAddLogFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)

	AddLogFlags(flags, textlogger.NewConfig())

	assert.NotNil(t, flags.Lookup("v"))
	assert.NotNil(t, flags.Lookup("vmodule"))
	require.NoError(t, flags.Parse([]string{"--v", "2"}))
}
