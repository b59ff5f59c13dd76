// ============================================================================
// fbsd CLI
// ============================================================================
//
// 命令結構：
//   fbsd                      # 根命令
//   ├── run                   # 啟動 FBS 客戶端、連線監看與離線佇列
//   ├── status                # 查詢執行中 fbsd 的狀態
//   ├── probe [url]           # 測試 FBS 端點是否可連線
//   ├── endpoint              # 寫入 FBS 端點設定到設定儲存
//   ├── inspect <queue>       # 檢視佇列快照與 WAL（--dump 列出事件）
//   └── --config, -c          # 設定檔路徑（預設 configs/default.yaml）
//
// 設定檔為 YAML，見 internal/config。FBS 帳號與網址不在設定檔中，
// 而是存放在設定儲存（storage.config_dir）的 config/fbs.json。
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/fbs-kiosk/internal/config"
	"github.com/ChuLiYu/fbs-kiosk/internal/configstore"
	"github.com/ChuLiYu/fbs-kiosk/internal/prober"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

var configFile string

// BuildCLI 建立根命令
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fbsd",
		Short: "fbsd: FBS client and offline queue for self-service kiosks",
		Long: `fbsd talks SIP2 over HTTP to FBS and keeps checkouts and checkins
in a durable offline queue while FBS is unreachable:
- connectivity probing with fbs.online / fbs.offline events
- WAL and snapshot backed queues replayed when FBS comes back
- Prometheus metrics and gRPC health`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildProbeCommand())
	rootCmd.AddCommand(buildEndpointCommand())
	rootCmd.AddCommand(buildInspectCommand())

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the FBS client and offline queues",
		Long:  "Load the FBS endpoint from the config store, start connectivity probing, the offline queues and the admin servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					log.Info("Received shutdown signal, stopping gracefully...")
					cancel()
				case <-ctx.Done():
				}
			}()

			d, err := newDaemon(ctx, cfg)
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show FBS connectivity and offline queue status",
		Long:  "Query the admin HTTP API of a running fbsd",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cmd.OutOrStdout(), cfg)
		},
	}
}

type fbsStatus struct {
	Online   bool   `json:"online"`
	Endpoint string `json:"endpoint"`
	Agency   string `json:"agency"`
	Location string `json:"location"`
}

func showStatus(out io.Writer, cfg *config.Config) error {
	base := adminURL(cfg.HTTP.Addr)
	client := &http.Client{Timeout: 3 * time.Second}

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  config file:   %s\n", configFile)
	fmt.Fprintf(out, "  queue dir:     %s\n", cfg.Queue.DataDir)
	fmt.Fprintf(out, "  snapshots:     %s\n", cfg.Storage.Snapshot)
	fmt.Fprintf(out, "  admin API:     %s\n", base)
	fmt.Fprintln(out)

	var st fbsStatus
	if err := getJSON(client, base+"/fbs/status", &st); err != nil {
		fmt.Fprintf(out, "fbsd not reachable: %v\n", err)
		return nil
	}

	state := "off-line"
	if st.Online {
		state = "on-line"
	}
	fmt.Fprintln(out, "FBS:")
	fmt.Fprintf(out, "  endpoint:      %s\n", st.Endpoint)
	fmt.Fprintf(out, "  agency:        %s\n", st.Agency)
	fmt.Fprintf(out, "  state:         %s\n", state)
	fmt.Fprintln(out)

	var counts map[types.JobType]types.Counts
	if err := getJSON(client, base+"/offline/counts", &counts); err != nil {
		return fmt.Errorf("failed to read queue counts: %w", err)
	}
	names := make([]string, 0, len(counts))
	for t := range counts {
		names = append(names, string(t))
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Offline queues:")
	for _, name := range names {
		c := counts[types.JobType(name)]
		fmt.Fprintf(out, "  %-9s waiting=%d paused=%d active=%d delayed=%d failed=%d completed=%d\n",
			name, c.Waiting, c.Paused, c.Active, c.Delayed, c.Failed, c.Completed)
	}
	return nil
}

func adminURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: http status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ============================================================================
// probe
// ============================================================================

func buildProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [url]",
		Short: "Check whether the FBS endpoint accepts TCP connections",
		Long:  "Probe the given URL, or the endpoint stored in the config store when no URL is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			target := ""
			if len(args) == 1 {
				target = args[0]
			} else {
				var ep types.Endpoint
				if err := configstore.New(cfg.Storage.ConfigDir).LoadInto("config", "fbs", &ep); err != nil {
					return fmt.Errorf("failed to load fbs endpoint: %w", err)
				}
				target = ep.Endpoint
			}
			return probe(cmd.Context(), cmd.OutOrStdout(), target, cfg.FBS.ProbeTimeout)
		},
	}
}

func probe(ctx context.Context, out io.Writer, target string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := prober.IsOnline(ctx, target, timeout); err != nil {
		fmt.Fprintf(out, "%s is off-line: %v\n", target, err)
		return err
	}
	fmt.Fprintf(out, "%s is on-line (%s)\n", target, time.Since(start).Round(time.Millisecond))
	return nil
}

// ============================================================================
// endpoint
// ============================================================================

func buildEndpointCommand() *cobra.Command {
	var ep types.Endpoint

	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Store the FBS endpoint in the config store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return saveEndpoint(cmd.OutOrStdout(), configstore.New(cfg.Storage.ConfigDir), ep)
		},
	}

	cmd.Flags().StringVar(&ep.Endpoint, "url", "", "SIP2-over-HTTP URL of FBS")
	cmd.Flags().StringVar(&ep.Agency, "agency", "", "agency id (AO)")
	cmd.Flags().StringVar(&ep.Location, "location", "", "location code (AP)")
	cmd.Flags().StringVar(&ep.Username, "username", "", "FBS user")
	cmd.Flags().StringVar(&ep.Password, "password", "", "FBS password")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("agency")

	return cmd
}

func saveEndpoint(out io.Writer, store *configstore.Store, ep types.Endpoint) error {
	if err := config.ValidateEndpoint(ep); err != nil {
		return err
	}
	if err := store.Save("config", "fbs", ep); err != nil {
		return fmt.Errorf("failed to save fbs endpoint: %w", err)
	}
	fmt.Fprintf(out, "Saved FBS endpoint %s (%s) to %s\n", ep.Endpoint, ep.Agency, store.Dir())
	return nil
}
