// config.go 提供 daemon 连接配置的加载、校验与归一化。
// 配置在引擎生命周期内不可变，变更需通过 Manager 的 Reconfigure 重建。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	DefaultScanInterval  = 10 * time.Second
	DefaultRetryInterval = 60 * time.Second
	DefaultCallTimeout   = 10 * time.Second
	// DefaultGraceCycles 为容器从在线列表消失后保留记录的轮询周期数，
	// 用于吸收重建引起的短暂消失。
	DefaultGraceCycles = 2
	// DefaultMemoryChange 为 100 时关闭内存突变抑制。
	DefaultMemoryChange = 100

	certFile = "cert.pem"
	keyFile  = "key.pem"
	caFile   = "ca.pem"
)

// Precision 为各指标类别的小数位数，0 表示舍入到整数。
type Precision struct {
	CPU           int `yaml:"cpu"`
	MemoryMB      int `yaml:"memory_mb"`
	MemoryPercent int `yaml:"memory_percentage"`
	NetworkKB     int `yaml:"network_kb"`
	NetworkMB     int `yaml:"network_mb"`
}

// DefaultPrecision 对应原始行为：CPU 两位，其余一位小数。
func DefaultPrecision() Precision {
	return Precision{CPU: 2, MemoryMB: 1, MemoryPercent: 1, NetworkKB: 1, NetworkMB: 1}
}

// EnableList 表示"布尔或容器名列表"两种写法的启用开关，
// 未配置时默认对所有容器生效。
type EnableList struct {
	set  bool
	all  bool
	list map[string]struct{}
}

// EnableAll 返回对所有容器生效的开关。
func EnableAll(enabled bool) EnableList {
	return EnableList{set: true, all: enabled}
}

// EnableFor 返回只对指定容器生效的开关。
func EnableFor(names ...string) EnableList {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return EnableList{set: true, list: set}
}

// Enabled 报告开关对指定容器名（配置名，非显示名）是否生效。
func (e EnableList) Enabled(name string) bool {
	if e.list != nil {
		_, ok := e.list[name]
		return ok
	}
	return e.all
}

// UnmarshalYAML 同时接受布尔值与字符串列表两种写法。
func (e *EnableList) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if enabled, err := cast.ToBoolE(raw); err == nil {
		*e = EnableAll(enabled)
		return nil
	}
	names, err := cast.ToStringSliceE(raw)
	if err != nil {
		return fmt.Errorf("switch/button enablement must be a bool or a list of container names: %w", err)
	}
	*e = EnableFor(names...)
	return nil
}

// DaemonConfig 描述一个被监控 daemon 的全部配置。
type DaemonConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	CertPath string `yaml:"certpath"`

	ScanInterval  time.Duration `yaml:"scan_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	CallTimeout   time.Duration `yaml:"timeout"`
	GraceCycles   int           `yaml:"grace_cycles"`

	Precision Precision `yaml:"precision"`

	MonitoredConditions []string `yaml:"monitored_conditions"`

	Containers        []string          `yaml:"containers"`
	ContainersExclude []string          `yaml:"containers_exclude"`
	Rename            map[string]string `yaml:"rename"`

	Switch EnableList `yaml:"switch"`
	Button EnableList `yaml:"button"`

	// MemoryChange 为内存单周期突变抑制阈值（百分比），100 表示关闭。
	MemoryChange float64 `yaml:"memory_change"`

	// Conditions 为加载时解析完成的条件集合，不来自 YAML。
	Conditions ConditionSet `yaml:"-"`
}

// Config 为进程级配置：若干 daemon 加上桥接监听地址。
type Config struct {
	Listen  string         `yaml:"listen"`
	Daemons []DaemonConfig `yaml:"daemons"`
}

var urlSchemes = []string{"unix://", "tcp://", "http://", "https://"}

func checkDaemonURL(value any) error {
	url, _ := value.(string)
	if url == "" {
		// 留空表示自动探测本机 socket
		return nil
	}
	for _, scheme := range urlSchemes {
		if strings.HasPrefix(url, scheme) {
			return nil
		}
	}
	return fmt.Errorf("url %q must start with one of %s", url, strings.Join(urlSchemes, ", "))
}

// Validate 校验单个 daemon 配置。证书目录错误属于配置错误，
// 只在这里出现一次，不进入重试路径。
func (c *DaemonConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.URL, validation.By(checkDaemonURL)),
		validation.Field(&c.MemoryChange, validation.Min(0.0), validation.Max(100.0)),
	)
	if err != nil {
		return err
	}
	if c.CertPath != "" {
		if err := checkCertPath(c.CertPath); err != nil {
			return err
		}
	}
	for _, name := range c.MonitoredConditions {
		if _, err := ParseCondition(name); err != nil {
			return err
		}
	}
	return nil
}

// checkCertPath 要求 cert.pem 与 key.pem 成对存在，缺一即为配置错误。
func checkCertPath(dir string) error {
	var missing []string
	for _, name := range []string{certFile, keyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("certpath %q is missing %s", dir, strings.Join(missing, " and "))
	}
	return nil
}

// CertFiles 返回证书目录下的 cert/key 路径，以及可选的 ca.pem（存在时）。
func (c *DaemonConfig) CertFiles() (cert, key, ca string) {
	cert = filepath.Join(c.CertPath, certFile)
	key = filepath.Join(c.CertPath, keyFile)
	caPath := filepath.Join(c.CertPath, caFile)
	if _, err := os.Stat(caPath); err == nil {
		ca = caPath
	}
	return cert, key, ca
}

// Normalize 填充默认值并把条件字符串解析为枚举集合。
// 必须在 Validate 通过之后调用。
func (c *DaemonConfig) Normalize() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.GraceCycles <= 0 {
		c.GraceCycles = DefaultGraceCycles
	}
	if c.MemoryChange <= 0 {
		c.MemoryChange = DefaultMemoryChange
	}
	if c.Precision == (Precision{}) {
		c.Precision = DefaultPrecision()
	}
	if !c.Switch.set {
		c.Switch = EnableAll(true)
	}
	if !c.Button.set {
		c.Button = EnableAll(true)
	}

	// include 列表非空时 exclude 不生效
	if len(c.Containers) > 0 && len(c.ContainersExclude) > 0 {
		slog.Warn("containers and containers_exclude are both set, exclude list is ignored", "daemon", c.Name)
		c.ContainersExclude = nil
	}

	// 配置了证书目录时必须走 TLS
	if c.CertPath != "" {
		if strings.HasPrefix(c.URL, "http://") {
			slog.Warn("daemon url should be https when certpath is set, rewriting", "daemon", c.Name, "url", c.URL)
			c.URL = "https://" + strings.TrimPrefix(c.URL, "http://")
		} else if strings.HasPrefix(c.URL, "tcp://") {
			slog.Warn("daemon url should be https when certpath is set, rewriting", "daemon", c.Name, "url", c.URL)
			c.URL = "https://" + strings.TrimPrefix(c.URL, "tcp://")
		}
	}

	names := c.MonitoredConditions
	if len(names) == 0 {
		names = DefaultConditions
	}
	c.Conditions = make(ConditionSet, len(names))
	for _, name := range names {
		cond, err := ParseCondition(name)
		if err != nil {
			// Validate 已拦截未知条件，这里跳过即可
			continue
		}
		c.Conditions[cond] = struct{}{}
	}
}

// Included 报告容器名是否在监控范围内。
func (c *DaemonConfig) Included(name string) bool {
	if len(c.Containers) > 0 {
		for _, want := range c.Containers {
			if want == name {
				return true
			}
		}
		return false
	}
	for _, skip := range c.ContainersExclude {
		if skip == name {
			return false
		}
	}
	return true
}

// DisplayName 按改名规则返回显示名，无匹配规则时返回原名。
func (c *DaemonConfig) DisplayName(name string) string {
	if display, ok := c.Rename[name]; ok && display != "" {
		return display
	}
	return name
}

// Load 读取 YAML 配置文件，校验并归一化所有 daemon 配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Daemons) == 0 {
		return nil, errors.New("config contains no daemons")
	}
	seen := make(map[string]struct{}, len(cfg.Daemons))
	for i := range cfg.Daemons {
		dc := &cfg.Daemons[i]
		if err := dc.Validate(); err != nil {
			return nil, fmt.Errorf("daemon %q: %w", dc.Name, err)
		}
		if _, dup := seen[dc.Name]; dup {
			return nil, fmt.Errorf("duplicate daemon name %q", dc.Name)
		}
		seen[dc.Name] = struct{}{}
		dc.Normalize()
	}
	return &cfg, nil
}
