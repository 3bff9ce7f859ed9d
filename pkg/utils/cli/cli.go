// Package cli holds flag wiring shared by the binaries.
package cli

import (
	"flag"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2/textlogger"
)

// AddKubectlFlagsToSet binds the kubeconfig flags kubectl understands. The namespace override is left
// out so commands can define a --namespace of their own.
func AddKubectlFlagsToSet(flags *pflag.FlagSet) clientcmd.ClientConfig {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.DefaultClientConfig = &clientcmd.DefaultClientConfig
	overrides := clientcmd.ConfigOverrides{}
	kflags := clientcmd.RecommendedConfigOverrideFlags("")
	kflags.ContextOverrideFlags.Namespace = clientcmd.FlagInfo{}
	flags.StringVar(&loadingRules.ExplicitPath, "kubeconfig", "", "Path to a kube config. Only required if out-of-cluster")
	clientcmd.BindOverrideFlags(&overrides, flags, kflags)
	return clientcmd.NewInteractiveDeferredLoadingClientConfig(loadingRules, &overrides, os.Stdin)
}

// AddLogFlags binds -v and -vmodule to the text logger configuration
func AddLogFlags(flags *pflag.FlagSet, config *textlogger.Config) {
	goFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	config.AddFlags(goFlags)
	flags.AddGoFlagSet(goFlags)
}
