package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the server is running",
		Long:  "Probe the server's health endpoints and report whether it is accepting requests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	client := &http.Client{Timeout: 2 * time.Second}

	healthAddr := fmt.Sprintf("http://%s:%d/healthz", host, port)
	resp, err := client.Get(healthAddr)
	if err != nil {
		fmt.Printf("Server is not responding at %s\n", healthAddr)
		return nil
	}
	resp.Body.Close()

	readyAddr := fmt.Sprintf("http://%s:%d/readyz", host, port)
	ready, err := client.Get(readyAddr)
	readyStatus := "unreachable"
	if err == nil {
		readyStatus = ready.Status
		ready.Body.Close()
	}

	fmt.Println("Server is running")
	fmt.Printf("  Health: %s (%d)\n", healthAddr, resp.StatusCode)
	fmt.Printf("  Ready:  %s (%s)\n", readyAddr, readyStatus)
	return nil
}
