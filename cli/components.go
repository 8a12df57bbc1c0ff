package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hotswap"
	"github.com/zot/hotswap/internal/server"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func newComponentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"ls"},
		Short:   "List the components registered in a running serve",
		Args:    cobra.NoArgs,
		RunE:    runComponents,
	}
	cmd.Flags().String("url", "", "Live view base URL (default from --host and --port)")
	return cmd
}

func runComponents(cmd *cobra.Command, args []string) error {
	base, err := baseURL(cmd)
	if err != nil {
		return err
	}
	var infos []hotswap.ComponentInfo
	if err := call(http.MethodGet, base+"/api/components", &infos); err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no components registered")
		return nil
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"ID", "Type", "State", "Reloads", "Children", "Last error"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
	})
	for _, info := range infos {
		table.Append([]string{
			info.ID,
			info.Type,
			info.State,
			strconv.Itoa(info.Reloads),
			strconv.Itoa(len(info.Children)),
			info.LastError,
		})
	}
	table.Render()
	fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return nil
}

// baseURL resolves the server to talk to from --url or the configured host and port.
func baseURL(cmd *cobra.Command) (string, error) {
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		return strings.TrimRight(u, "/"), nil
	}
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)), nil
}

// call sends a request and decodes the JSON reply into out. Non-2xx replies
// are turned into errors carrying the server's message.
func call(method, endpoint string, out any) error {
	req, err := http.NewRequest(method, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e server.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return json.Unmarshal(body, out)
}

func componentPath(base, id string, rest ...string) string {
	return base + "/api/components/" + strings.Join(append([]string{url.PathEscape(id)}, rest...), "/")
}
