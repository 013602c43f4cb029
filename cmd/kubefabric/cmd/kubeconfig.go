package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubefabric/reactor/pkg/credentials"
)

// loadVault loads a kubeconfig via
// clientcmd.NewNonInteractiveDeferredLoadingClientConfig, then translates
// the resulting *rest.Config into a single-entry credentials.Vault instead
// of a controller-runtime client, since this module talks to the API
// server through k8sclient rather than a typed clientset.
func loadVault(kubeconfigPath, context string) (*credentials.Vault, error) {
	loader := &clientcmd.ClientConfigLoadingRules{
		Precedence: filepath.SplitList(os.Getenv(clientcmd.RecommendedConfigPathEnvVar)),
	}
	if kubeconfigPath != "" {
		loader.ExplicitPath = kubeconfigPath
	}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loader,
		&clientcmd.ConfigOverrides{CurrentContext: context},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}

	info, err := connectionInfoFromRESTConfig(restCfg)
	if err != nil {
		return nil, err
	}

	return credentials.NewVault(map[credentials.VaultKey]credentials.ConnectionInfo{
		"kubeconfig": info,
	}), nil
}

func connectionInfoFromRESTConfig(cfg *restclient.Config) (credentials.ConnectionInfo, error) {
	info := credentials.ConnectionInfo{
		Server:          cfg.Host,
		CAPath:          cfg.CAFile,
		CAData:          cfg.CAData,
		Insecure:        cfg.Insecure,
		Username:        cfg.Username,
		Password:        cfg.Password,
		Token:           cfg.BearerToken,
		CertificatePath: cfg.CertFile,
		CertificateData: cfg.CertData,
		PrivateKeyPath:  cfg.KeyFile,
		PrivateKeyData:  cfg.KeyData,
	}
	if info.Token != "" {
		info.Scheme = "Bearer"
	}
	return info, nil
}
