package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aro-network/go-proxyworker/pkg/types"
)

// LoadFile 从 JSON 或 YAML 文件加载配置
//
// .yaml/.yml 按 YAML 解析，其余按 JSON 解析；字段名与 JSON 配置一致。
func LoadFile(path string) (types.WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WorkerConfig{}, configError("read config file", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return types.WorkerConfig{}, configError("malformed yaml", err)
		}
	}
	return Parse(data)
}

// yamlToJSON 转换为 JSON，复用 Parse 的别名与校验逻辑
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("empty document")
	}
	return json.Marshal(doc)
}
