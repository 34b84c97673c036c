package detector

import (
	"context"
	"regexp"

	"github.com/ppiankov/gatewatch/internal/model"
)

// signature pairs a compiled pattern with the threat it indicates and the
// risk weight a match contributes.
type signature struct {
	name   string
	re     *regexp.Regexp
	threat model.ThreatType
	weight float64
}

// Signature is the tier-2 pattern matcher. It scans the raw prompt and
// tool-call payload against a compiled bundle of injection, exfiltration,
// and abuse signatures. Slower than the heuristic screen, still well under
// a millisecond for typical prompts.
type Signature struct {
	bundle  []signature
	version string
}

// NewSignature compiles the built-in signature bundle.
func NewSignature(version string) *Signature {
	if version == "" {
		version = "signatures-v1"
	}
	return &Signature{bundle: builtinSignatures(), version: version}
}

func (s *Signature) Name() string    { return "signature" }
func (s *Signature) Version() string { return s.version }

func (s *Signature) Analyze(ctx context.Context, fv *model.FeatureVector) (Signal, error) {
	text := fv.Raw.Prompt + "\n" + fv.Raw.ToolCall + "\n" + fv.Raw.Context

	risk := 0.0
	var attrs []model.Attribution
	counts := map[model.ThreatType]float64{}

	for _, sig := range s.bundle {
		if err := ctx.Err(); err != nil {
			return Signal{}, err
		}
		if !sig.re.MatchString(text) {
			continue
		}
		// Independent-evidence combination: each match closes a fraction
		// of the remaining distance to 1.0.
		risk = risk + (1-risk)*sig.weight
		counts[sig.threat] += sig.weight
		attrs = append(attrs, model.Attribution{Feature: "sig:" + sig.name, Weight: sig.weight})
	}

	threat := model.ThreatBenign
	bestW := 0.0
	for _, t := range model.KnownThreats {
		if counts[t] > bestW {
			bestW = counts[t]
			threat = t
		}
	}

	conf := 0.55
	if len(attrs) == 0 {
		// A clean signature pass is weak evidence of benignity on its own.
		conf = 0.6
	} else if risk > 0.6 {
		conf = 0.9
	}

	return Signal{
		Risk:         clamp(risk),
		Confidence:   conf,
		Threat:       threat,
		Attributions: attrs,
	}, nil
}

func builtinSignatures() []signature {
	mk := func(name, pattern string, threat model.ThreatType, weight float64) signature {
		return signature{name: name, re: regexp.MustCompile(pattern), threat: threat, weight: weight}
	}
	return []signature{
		mk("ignore_instructions", `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|prompts)`, model.ThreatPromptInjection, 0.7),
		mk("system_prompt_probe", `(?i)(reveal|show|print|repeat)\s+(your\s+)?(system|initial|hidden)\s+prompt`, model.ThreatPromptInjection, 0.65),
		mk("role_override", `(?i)you\s+are\s+now\s+(dan|in\s+developer\s+mode|unrestricted)`, model.ThreatAgentHijacking, 0.6),
		mk("new_persona", `(?i)(act|pretend|roleplay)\s+as\s+(if\s+you\s+have\s+)?no\s+(restrictions|rules|guidelines)`, model.ThreatAgentHijacking, 0.55),
		mk("env_exfil", `(?i)(cat|printenv|echo)\s+.*\b(\.env|aws_secret|api[_-]?key|credentials)\b`, model.ThreatDataExfiltration, 0.6),
		mk("outbound_post", `(?i)(curl|wget|fetch)\s+.*(-d|--data|--upload-file)\s`, model.ThreatDataExfiltration, 0.5),
		mk("ssh_key_read", `(?i)(\.ssh/id_|authorized_keys|known_hosts)`, model.ThreatDataExfiltration, 0.55),
		mk("destructive_rm", `(?i)rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/`, model.ThreatToolAbuse, 0.7),
		mk("shell_chain", "(?i)[;`]\\s*(sh|bash|zsh)\\s+-c", model.ThreatToolAbuse, 0.45),
		mk("fork_bomb", `:\(\)\s*\{\s*:\|:&\s*\}`, model.ThreatResourceDoS, 0.8),
		mk("tight_loop", `(?i)while\s*(\(\s*true\s*\)|true)\s*(;|do)`, model.ThreatResourceDoS, 0.4),
		mk("base64_blob", `[A-Za-z0-9+/]{120,}={0,2}`, model.ThreatContextPoisoning, 0.3),
		mk("hidden_directive", `(?i)<\s*(system|instruction)[^>]*>`, model.ThreatContextPoisoning, 0.45),
	}
}
