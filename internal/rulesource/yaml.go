package rulesource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"upbitmt/internal/rule"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const ruleSchema = `{
  "type": "object",
  "required": ["asset", "trade_type", "target", "expiry"],
  "additionalProperties": false,
  "properties": {
    "asset":         {"type": "string", "minLength": 1},
    "reason":        {"type": "string"},
    "trade_type":    {"type": "string", "enum": ["매수", "매도", "기준봉익절", "buy", "sell", "baseline_take_profit"]},
    "target":        {"type": ["number", "string"]},
    "condition":     {"type": "string"},
    "quantity":      {"type": ["number", "string"]},
    "quantity_unit": {"type": "string"},
    "order_price":   {"type": ["number", "string"]},
    "expiry":        {"type": ["string", "number"]},
    "baseline_from": {"type": "string"},
    "active":        {"type": ["boolean", "string"]}
  }
}`

type yamlFile struct {
	Rules []yaml.Node `yaml:"rules"`
}

// YAMLSource reads a rules: list whose items use the same fields as the
// spreadsheet columns under English keys. Items are schema-checked one by
// one so a bad item only rejects itself.
type YAMLSource struct {
	path   string
	parser *Parser
	schema *jsonschema.Schema
}

func NewYAMLSource(path string, parser *Parser) (*YAMLSource, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rule.json", strings.NewReader(ruleSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("rule.json")
	if err != nil {
		return nil, fmt.Errorf("compile rule schema: %w", err)
	}
	return &YAMLSource{path: path, parser: parser, schema: schema}, nil
}

func (s *YAMLSource) Path() string { return s.path }

func (s *YAMLSource) LoadRules(ctx context.Context) (Result, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Result{}, fmt.Errorf("read rule file failed: %w", err)
	}
	var doc yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Result{}, fmt.Errorf("parse rule file failed: %w", err)
	}

	var (
		rows     []Row
		rejected []*rule.ConfigError
	)
	for i := range doc.Rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		node := &doc.Rules[i]
		row, cerr := s.toRow(node)
		if cerr != nil {
			rejected = append(rejected, cerr)
			continue
		}
		rows = append(rows, row)
	}
	rules, bad := s.parser.ParseRows(rows)
	return Result{Rules: rules, Rejected: append(rejected, bad...)}, nil
}

func (s *YAMLSource) toRow(node *yaml.Node) (Row, *rule.ConfigError) {
	reject := func(reason string) (Row, *rule.ConfigError) {
		return Row{}, &rule.ConfigError{Source: s.parser.source, Row: node.Line, Reason: reason}
	}
	if node.Kind != yaml.MappingNode {
		return reject("rule must be a mapping")
	}
	var generic any
	if err := node.Decode(&generic); err != nil {
		return reject(err.Error())
	}
	if err := s.schema.Validate(jsonValue(generic)); err != nil {
		return reject(strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	row := Row{Number: node.Line, Cells: make(map[Field]Cell, len(node.Content)/2)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		field, ok := fieldForHeader(key.Value)
		if !ok || val.Kind != yaml.ScalarNode {
			continue
		}
		row.Cells[field] = Cell{Value: val.Value}
	}
	return row, nil
}

// jsonValue normalizes a YAML-decoded value into what encoding/json would
// produce, which is what the schema validator expects.
func jsonValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
