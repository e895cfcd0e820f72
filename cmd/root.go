/*
Package cmd implements the command-line interface for the concept mesh.
It provides commands for serving the mesh, verifying the audit archive,
and replaying it into a reconstructed store.
*/
package cmd

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

/*
Embed a mini filesystem into the binary to hold the default config file.
This will be written to the home directory of the user running the service,
which allows an operator to easily override the config file.
*/
//go:embed cfg/*
var embedded embed.FS

/*
rootCmd represents the base command when called without any subcommands
*/
var (
	projectName = "mesh-go"
	cfgFile     string

	rootCmd = &cobra.Command{
		Use:   "mesh-go",
		Short: "A shared concept mesh with spectral stability monitoring",
		Long:  longRoot,
	}
)

/*
Execute is the main entry point for the mesh CLI. It initializes the root
command and executes it.
*/
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yml",
		"config file (default is $HOME/."+projectName+"/config.yml)",
	)
}

/*
initConfig writes the default config file to the user's home directory if
it doesn't exist, and then reads the config file from there.
*/
func initConfig() {
	var err error

	if err = writeConfig(); err != nil {
		log.Fatal(err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	// Add user config directory (~/.mesh-go)
	home, _ := os.UserHomeDir()
	viper.AddConfigPath(home + "/." + projectName)

	if err = viper.ReadInConfig(); err != nil {
		log.Fatal(err)
		return
	}
}

/*
writeConfig writes the default config file to the user's home directory.
*/
func writeConfig() (err error) {
	var (
		home, _ = os.UserHomeDir()
		fh      fs.File
		buf     bytes.Buffer
	)

	configDir := home + "/." + projectName
	if !CheckFileExists(configDir) {
		if err = os.MkdirAll(configDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	for _, file := range []string{cfgFile} {
		fullPath := configDir + "/" + file

		if CheckFileExists(fullPath) {
			continue
		}

		if fh, err = embedded.Open("cfg/" + file); err != nil {
			return fmt.Errorf("failed to open embedded config file: %w", err)
		}

		if _, err = io.Copy(&buf, fh); err != nil {
			fh.Close()
			return fmt.Errorf("failed to read embedded config file: %w", err)
		}

		if err = os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			fh.Close()
			return fmt.Errorf("failed to write config file: %w", err)
		}

		log.Info("wrote config file", "path", fullPath)
		buf.Reset()
		fh.Close()
	}

	return nil
}

func CheckFileExists(filePath string) bool {
	_, error := os.Stat(filePath)
	return !errors.Is(error, os.ErrNotExist)
}

/*
longRoot contains the detailed help text for the root command.
*/
var longRoot = `
mesh-go maintains a shared knowledge graph of concepts extracted by
independent agents. All writes funnel through a single mutation gateway,
every accepted mutation lands in an append-only audit archive before it
is acknowledged, and a spectral monitor continuously scores how coherent
each concept's usage trajectory is.
`
