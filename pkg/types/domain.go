package types

// Checkpoint describes a model directory on local disk.
type Checkpoint struct {
	// Absolute path of the checkpoint directory.
	// example: /tmp/merged_model
	Dir string `json:"dir" example:"/tmp/merged_model"`
	// Regular file names found directly under Dir.
	Files []string `json:"files"`
	// Safetensors weight files, sorted by name.
	// example: ["model-00001-of-00002.safetensors","model-00002-of-00002.safetensors"]
	Shards []string `json:"shards"`
	// Name of the shard index file when the weights are split.
	// example: model.safetensors.index.json
	Index string `json:"index,omitempty" example:"model.safetensors.index.json"`
	// Adapter is true when the directory holds LoRA adapter weights.
	Adapter bool `json:"adapter"`
	// Base model the adapter was trained on, read from adapter_config.json.
	// example: meta-llama/Llama-3.1-8B
	BaseModel string `json:"base_model,omitempty" example:"meta-llama/Llama-3.1-8B"`
}
