package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Client implements API against a real Proxmox VE endpoint.
//
// Authentication uses the ticket scheme: a login request exchanges
// credentials for a cookie ticket and a CSRF token, which are attached to
// every subsequent request. Tickets expire, so a 401 triggers one
// transparent re-login.
type Client struct {
	baseURL    string
	node       string
	storage    string
	user       string
	password   string
	httpClient *http.Client

	mu     sync.Mutex
	ticket string
	csrf   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithInsecureTLS disables certificate verification. Proxmox nodes commonly
// run with self-signed certificates.
func WithInsecureTLS() ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		}
	}
}

// WithStorage sets the storage used for uploads and volume listings.
func WithStorage(storage string) ClientOption {
	return func(c *Client) {
		c.storage = storage
	}
}

// NewClient creates a Client for the given endpoint. baseURL is the API
// root, e.g. "https://pve.example:8006". node is the target node name.
func NewClient(baseURL, node, user, password string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		node:       node,
		storage:    "local",
		user:       user,
		password:   password,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// login exchanges credentials for a ticket and CSRF token.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.user)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api2/json/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Reason: strings.TrimSpace(string(body))}
	}

	var env struct {
		Data struct {
			Ticket string `json:"ticket"`
			CSRF   string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("login: decoding response: %w", err)
	}

	c.mu.Lock()
	c.ticket = env.Data.Ticket
	c.csrf = env.Data.CSRF
	c.mu.Unlock()
	return nil
}

func (c *Client) credentials(ctx context.Context) (ticket, csrf string, err error) {
	c.mu.Lock()
	ticket, csrf = c.ticket, c.csrf
	c.mu.Unlock()
	if ticket != "" {
		return ticket, csrf, nil
	}
	if err := c.login(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	ticket, csrf = c.ticket, c.csrf
	c.mu.Unlock()
	return ticket, csrf, nil
}

// do performs one API request and decodes the "data" envelope into out.
// form is sent as the body for mutating methods and as the query string for
// GET. A 401 response triggers a single re-login and retry.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		ticket, csrf, err := c.credentials(ctx)
		if err != nil {
			return err
		}

		endpoint := c.baseURL + "/api2/json" + path
		var body io.Reader
		if form != nil {
			if method == http.MethodGet {
				endpoint += "?" + form.Encode()
			} else {
				body = strings.NewReader(form.Encode())
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: ticket})
		if method != http.MethodGet {
			req.Header.Set("CSRFPreventionToken", csrf)
			if body != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = resp.Body.Close()
			c.mu.Lock()
			c.ticket, c.csrf = "", ""
			c.mu.Unlock()
			continue
		}

		return drainResponse(resp, out)
	}
}

func drainResponse(resp *http.Response, out any) error {
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Reason: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if string(env.Data) == "null" || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

func (c *Client) qemuPath(vmid int) string {
	return fmt.Sprintf("/nodes/%s/qemu/%d", c.node, vmid)
}

// --- VMManager ---

func (c *Client) NextID(ctx context.Context) (int, error) {
	var raw string
	if err := c.do(ctx, http.MethodGet, "/cluster/nextid", nil, &raw); err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unexpected nextid %q: %w", raw, err)
	}
	return id, nil
}

func (c *Client) ListVMs(ctx context.Context) ([]VM, error) {
	form := url.Values{}
	form.Set("type", "vm")

	var raw []struct {
		VMID     int    `json:"vmid"`
		Name     string `json:"name"`
		Node     string `json:"node"`
		Status   string `json:"status"`
		Tags     string `json:"tags"`
		Template int    `json:"template"`
	}
	if err := c.do(ctx, http.MethodGet, "/cluster/resources", form, &raw); err != nil {
		return nil, err
	}

	vms := make([]VM, 0, len(raw))
	for _, r := range raw {
		vms = append(vms, VM{
			VMID:     r.VMID,
			Name:     r.Name,
			Node:     r.Node,
			Status:   r.Status,
			Tags:     r.Tags,
			Template: r.Template == 1,
		})
	}
	return vms, nil
}

func (c *Client) CloneVM(ctx context.Context, srcID int, opts CloneOpts) (UPID, error) {
	form := url.Values{}
	form.Set("newid", strconv.Itoa(opts.NewID))
	if opts.Name != "" {
		form.Set("name", opts.Name)
	}
	if opts.Full {
		form.Set("full", "1")
	} else {
		form.Set("full", "0")
	}

	var upid UPID
	err := c.do(ctx, http.MethodPost, c.qemuPath(srcID)+"/clone", form, &upid)
	return upid, err
}

func (c *Client) RestoreVM(ctx context.Context, opts RestoreOpts) (UPID, error) {
	form := url.Values{}
	form.Set("vmid", strconv.Itoa(opts.VMID))
	form.Set("archive", opts.Archive)
	if opts.Name != "" {
		form.Set("name", opts.Name)
	}
	if opts.Storage != "" {
		form.Set("storage", opts.Storage)
	}

	var upid UPID
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/nodes/%s/qemu", c.node), form, &upid)
	return upid, err
}

func (c *Client) CreateVM(ctx context.Context, vmid int, config map[string]string) (UPID, error) {
	form := url.Values{}
	form.Set("vmid", strconv.Itoa(vmid))
	for k, v := range config {
		form.Set(k, v)
	}

	var upid UPID
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/nodes/%s/qemu", c.node), form, &upid)
	return upid, err
}

func (c *Client) ConfigureVM(ctx context.Context, vmid int, config map[string]string) error {
	form := url.Values{}
	for k, v := range config {
		form.Set(k, v)
	}
	return c.do(ctx, http.MethodPut, c.qemuPath(vmid)+"/config", form, nil)
}

func (c *Client) UnsetVMConfig(ctx context.Context, vmid int, keys []string) error {
	form := url.Values{}
	form.Set("delete", strings.Join(keys, ","))
	return c.do(ctx, http.MethodPut, c.qemuPath(vmid)+"/config", form, nil)
}

func (c *Client) VMStatus(ctx context.Context, vmid int) (string, error) {
	var raw struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, c.qemuPath(vmid)+"/status/current", nil, &raw); err != nil {
		return "", err
	}
	return raw.Status, nil
}

func (c *Client) StartVM(ctx context.Context, vmid int) (UPID, error) {
	var upid UPID
	err := c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/status/start", nil, &upid)
	return upid, err
}

func (c *Client) StopVM(ctx context.Context, vmid int) (UPID, error) {
	var upid UPID
	err := c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/status/stop", nil, &upid)
	return upid, err
}

func (c *Client) ShutdownVM(ctx context.Context, vmid int) (UPID, error) {
	var upid UPID
	err := c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/status/shutdown", nil, &upid)
	return upid, err
}

func (c *Client) DeleteVM(ctx context.Context, vmid int) (UPID, error) {
	form := url.Values{}
	form.Set("purge", "1")
	form.Set("destroy-unreferenced-disks", "1")

	var upid UPID
	err := c.do(ctx, http.MethodDelete, c.qemuPath(vmid), form, &upid)
	return upid, err
}

func (c *Client) ConvertToTemplate(ctx context.Context, vmid int) error {
	return c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/template", nil, nil)
}

// --- SDNManager ---

func (c *Client) ListZones(ctx context.Context) ([]ZoneInfo, error) {
	var zones []ZoneInfo
	err := c.do(ctx, http.MethodGet, "/cluster/sdn/zones", nil, &zones)
	return zones, err
}

func (c *Client) CreateZone(ctx context.Context, zone ZoneInfo) error {
	form := url.Values{}
	form.Set("zone", zone.Zone)
	form.Set("type", zone.Type)
	if zone.DHCP != "" {
		form.Set("dhcp", zone.DHCP)
	}
	if zone.IPAM != "" {
		form.Set("ipam", zone.IPAM)
	}
	return c.do(ctx, http.MethodPost, "/cluster/sdn/zones", form, nil)
}

func (c *Client) DeleteZone(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cluster/sdn/zones/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListVnets(ctx context.Context) ([]VnetInfo, error) {
	var vnets []VnetInfo
	err := c.do(ctx, http.MethodGet, "/cluster/sdn/vnets", nil, &vnets)
	return vnets, err
}

func (c *Client) CreateVnet(ctx context.Context, vnet VnetInfo) error {
	form := url.Values{}
	form.Set("vnet", vnet.Vnet)
	form.Set("zone", vnet.Zone)
	if vnet.Alias != "" {
		form.Set("alias", vnet.Alias)
	}
	return c.do(ctx, http.MethodPost, "/cluster/sdn/vnets", form, nil)
}

func (c *Client) DeleteVnet(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cluster/sdn/vnets/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListSubnets(ctx context.Context, vnet string) ([]SubnetInfo, error) {
	var raw []struct {
		ID      string `json:"subnet"`
		Vnet    string `json:"vnet"`
		CIDR    string `json:"cidr"`
		Gateway string `json:"gateway"`
		SNAT    int    `json:"snat"`
	}
	path := "/cluster/sdn/vnets/" + url.PathEscape(vnet) + "/subnets"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	subnets := make([]SubnetInfo, 0, len(raw))
	for _, r := range raw {
		subnets = append(subnets, SubnetInfo{
			ID:      r.ID,
			Vnet:    r.Vnet,
			CIDR:    r.CIDR,
			Gateway: r.Gateway,
			SNAT:    r.SNAT == 1,
		})
	}
	return subnets, nil
}

func (c *Client) CreateSubnet(ctx context.Context, vnet string, subnet SubnetInfo) error {
	form := url.Values{}
	form.Set("subnet", subnet.CIDR)
	form.Set("type", "subnet")
	if subnet.Gateway != "" {
		form.Set("gateway", subnet.Gateway)
	}
	if subnet.SNAT {
		form.Set("snat", "1")
	}
	for _, r := range subnet.DHCPRanges {
		form.Add("dhcp-range", fmt.Sprintf("start-address=%s,end-address=%s", r.Start, r.End))
	}
	path := "/cluster/sdn/vnets/" + url.PathEscape(vnet) + "/subnets"
	return c.do(ctx, http.MethodPost, path, form, nil)
}

func (c *Client) DeleteSubnet(ctx context.Context, vnet, id string) error {
	path := "/cluster/sdn/vnets/" + url.PathEscape(vnet) + "/subnets/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ApplySDN(ctx context.Context) (UPID, error) {
	var upid UPID
	err := c.do(ctx, http.MethodPut, "/cluster/sdn", nil, &upid)
	return upid, err
}

// --- StorageManager ---

func (c *Client) storagePath() string {
	return fmt.Sprintf("/nodes/%s/storage/%s", c.node, c.storage)
}

func (c *Client) ListVolumes(ctx context.Context, content string) ([]Volume, error) {
	form := url.Values{}
	form.Set("content", content)

	var vols []Volume
	err := c.do(ctx, http.MethodGet, c.storagePath()+"/content", form, &vols)
	return vols, err
}

// UploadFile streams a file into storage via multipart upload. Unlike the
// other requests this one does not use form encoding, so it builds its own
// request.
func (c *Client) UploadFile(ctx context.Context, content, filename string, r io.Reader, size int64) (UPID, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var werr error
		defer func() {
			_ = pw.CloseWithError(werr)
		}()
		if werr = mw.WriteField("content", content); werr != nil {
			return
		}
		var part io.Writer
		if part, werr = mw.CreateFormFile("filename", filename); werr != nil {
			return
		}
		if _, werr = io.Copy(part, r); werr != nil {
			return
		}
		werr = mw.Close()
	}()

	ticket, csrf, err := c.credentials(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api2/json"+c.storagePath()+"/upload", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: ticket})
	req.Header.Set("CSRFPreventionToken", csrf)
	_ = size // size is advisory; the platform checks it server-side

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}

	var upid UPID
	if err := drainResponse(resp, &upid); err != nil {
		return "", err
	}
	return upid, nil
}

func (c *Client) DownloadURL(ctx context.Context, content, filename, fileURL string) (UPID, error) {
	form := url.Values{}
	form.Set("content", content)
	form.Set("filename", filename)
	form.Set("url", fileURL)

	var upid UPID
	err := c.do(ctx, http.MethodPost, c.storagePath()+"/download-url", form, &upid)
	return upid, err
}

func (c *Client) DeleteVolume(ctx context.Context, volid string) (UPID, error) {
	var upid UPID
	err := c.do(ctx, http.MethodDelete, c.storagePath()+"/content/"+url.PathEscape(volid), nil, &upid)
	return upid, err
}

// --- TaskReader ---

func (c *Client) TaskStatus(ctx context.Context, upid UPID) (*TaskStatus, error) {
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", c.node, url.PathEscape(string(upid)))
	var st TaskStatus
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- GuestAgent ---

func (c *Client) AgentPing(ctx context.Context, vmid int) error {
	return c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/agent/ping", nil, nil)
}

func (c *Client) AgentExec(ctx context.Context, vmid int, cmd []string) (int, error) {
	form := url.Values{}
	for _, arg := range cmd {
		form.Add("command", arg)
	}

	var raw struct {
		PID int `json:"pid"`
	}
	if err := c.do(ctx, http.MethodPost, c.qemuPath(vmid)+"/agent/exec", form, &raw); err != nil {
		return 0, err
	}
	return raw.PID, nil
}

func (c *Client) AgentExecStatus(ctx context.Context, vmid, pid int) (*ExecStatus, error) {
	form := url.Values{}
	form.Set("pid", strconv.Itoa(pid))

	var raw struct {
		Exited   int    `json:"exited"`
		ExitCode int    `json:"exitcode"`
		OutData  string `json:"out-data"`
		ErrData  string `json:"err-data"`
	}
	if err := c.do(ctx, http.MethodGet, c.qemuPath(vmid)+"/agent/exec-status", form, &raw); err != nil {
		return nil, err
	}
	return &ExecStatus{
		Exited:   raw.Exited == 1,
		ExitCode: raw.ExitCode,
		OutData:  raw.OutData,
		ErrData:  raw.ErrData,
	}, nil
}

var _ API = (*Client)(nil)
