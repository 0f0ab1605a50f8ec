package emotion

// entry maps one lexicon word to an emotion category.
type entry struct {
	label     string
	valence   float64 // -1..1, sign of the emotion itself
	intensity float64 // base intensity before modifiers
}

// Lexicon is an immutable emotion vocabulary injected into the Tagger at
// construction. Tagging is deterministic for a fixed lexicon version.
type Lexicon struct {
	version      string
	words        map[string]entry
	intensifiers map[string]float64
	negators     map[string]bool
	opposites    map[string]string
	positive     map[string]bool
	negative     map[string]bool
}

// Version identifies the lexicon build; results are only comparable
// across identical versions.
func (l *Lexicon) Version() string { return l.version }

func (l *Lexicon) lookup(tok string) (entry, bool) {
	e, ok := l.words[tok]
	return e, ok
}

// category base definitions: label, valence, default intensity, words.
var defaultCategories = []struct {
	label     string
	valence   float64
	intensity float64
	words     []string
}{
	{"joy", 1, 0.75, []string{"happy", "joy", "joyful", "glad", "delighted", "cheerful", "excited", "thrilled"}},
	{"excitement", 1, 0.8, []string{"exhilarated", "pumped", "stoked", "psyched", "eager"}},
	{"love", 1, 0.8, []string{"love", "adore", "cherish", "beloved"}},
	{"gratitude", 1, 0.6, []string{"grateful", "thankful", "appreciate", "thanks"}},
	{"pride", 1, 0.6, []string{"proud", "accomplished", "achievement"}},
	{"hope", 0.8, 0.5, []string{"hope", "hopeful", "optimistic", "looking-forward"}},
	{"relief", 0.7, 0.5, []string{"relieved", "relief", "phew"}},
	{"contentment", 0.6, 0.4, []string{"content", "satisfied", "peaceful", "calm", "serene"}},
	{"amusement", 0.8, 0.5, []string{"funny", "hilarious", "amusing", "lol", "haha"}},
	{"curiosity", 0.5, 0.5, []string{"curious", "wonder", "intrigued", "fascinating"}},
	{"awe", 0.7, 0.6, []string{"awesome", "amazing", "breathtaking", "incredible", "wow"}},
	{"admiration", 0.7, 0.5, []string{"admire", "impressive", "brilliant", "respect"}},
	{"compassion", 0.6, 0.5, []string{"compassion", "sympathy", "empathy", "caring"}},
	{"trust", 0.6, 0.5, []string{"trust", "reliable", "dependable", "faith"}},
	{"anticipation", 0.5, 0.5, []string{"anticipate", "expect", "await", "upcoming"}},
	{"determination", 0.5, 0.6, []string{"determined", "committed", "resolve", "persist"}},
	{"surprise", 0.2, 0.6, []string{"surprised", "unexpected", "astonished", "shocking"}},
	{"nostalgia", 0.1, 0.4, []string{"nostalgic", "miss", "memories", "remember-when"}},
	{"confusion", -0.3, 0.4, []string{"confused", "confusing", "puzzled", "unclear", "lost"}},
	{"boredom", -0.4, 0.3, []string{"bored", "boring", "tedious", "dull"}},
	{"sadness", -1, 0.7, []string{"sad", "unhappy", "depressed", "miserable", "heartbroken", "crying"}},
	{"anger", -1, 0.8, []string{"angry", "furious", "mad", "rage", "outraged"}},
	{"fear", -1, 0.8, []string{"afraid", "scared", "terrified", "fear", "frightened"}},
	{"anxiety", -0.8, 0.6, []string{"anxious", "worried", "nervous", "stressed", "uneasy"}},
	{"frustration", -0.7, 0.6, []string{"frustrated", "frustrating", "annoyed", "irritated"}},
	{"disgust", -0.8, 0.6, []string{"disgusted", "disgusting", "gross", "revolting"}},
	{"shame", -0.8, 0.6, []string{"ashamed", "shame", "humiliated", "mortified"}},
	{"guilt", -0.7, 0.6, []string{"guilty", "guilt", "regret", "sorry"}},
	{"envy", -0.6, 0.5, []string{"envious", "envy", "jealous", "jealousy"}},
	{"loneliness", -0.8, 0.6, []string{"lonely", "alone", "isolated", "abandoned"}},
	{"disappointment", -0.6, 0.5, []string{"disappointed", "disappointing", "letdown"}},
	{"contempt", -0.7, 0.5, []string{"contempt", "disdain", "scorn", "pathetic"}},
	{"embarrassment", -0.5, 0.5, []string{"embarrassed", "embarrassing", "awkward", "cringe"}},
	{"despair", -1, 0.8, []string{"hopeless", "despair", "devastated", "crushed"}},
}

// opposite pairs used when negation flips valence.
var defaultOpposites = map[string]string{
	"joy":          "sadness",
	"sadness":      "joy",
	"excitement":   "boredom",
	"boredom":      "excitement",
	"love":         "contempt",
	"contempt":     "love",
	"trust":        "anxiety",
	"anxiety":      "trust",
	"hope":         "despair",
	"despair":      "hope",
	"pride":        "shame",
	"shame":        "pride",
	"contentment":  "frustration",
	"frustration":  "contentment",
	"anger":        "contentment",
	"fear":         "relief",
	"relief":       "fear",
	"gratitude":    "disappointment",
	"disappointment": "gratitude",
}

// DefaultLexicon builds the built-in English lexicon.
func DefaultLexicon() *Lexicon {
	l := &Lexicon{
		version: "builtin-1",
		words:   make(map[string]entry),
		intensifiers: map[string]float64{
			"very": 1.3, "really": 1.25, "so": 1.2, "extremely": 1.5,
			"incredibly": 1.45, "absolutely": 1.4, "totally": 1.3,
			"deeply": 1.35, "utterly": 1.45, "quite": 1.1,
			"slightly": 0.7, "somewhat": 0.8, "a-bit": 0.75,
		},
		negators: map[string]bool{
			"not": true, "no": true, "never": true, "nothing": true,
			"hardly": true, "barely": true, "without": true,
			"dont": true, "cant": true, "wont": true, "isnt": true,
			"wasnt": true, "didnt": true, "doesnt": true,
		},
		opposites: defaultOpposites,
		positive:  make(map[string]bool),
		negative:  make(map[string]bool),
	}
	for _, c := range defaultCategories {
		for _, w := range c.words {
			l.words[w] = entry{label: c.label, valence: c.valence, intensity: c.intensity}
			if c.valence > 0.3 {
				l.positive[w] = true
			} else if c.valence < -0.3 {
				l.negative[w] = true
			}
		}
	}
	// general sentiment words that carry polarity without a category
	for _, w := range []string{"good", "great", "nice", "wonderful", "perfect", "best", "better", "win", "success"} {
		l.positive[w] = true
	}
	for _, w := range []string{"bad", "terrible", "awful", "horrible", "worst", "worse", "fail", "failure", "problem"} {
		l.negative[w] = true
	}
	return l
}
