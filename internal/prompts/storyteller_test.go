// internal/prompts/storyteller_test.go
package prompts

import (
	"testing"

	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStoryRequest(t *testing.T) {
	msg, err := BuildStoryRequest(
		models.Selection{Genre: models.GenreSciFi, Tone: models.ToneSarcastic},
		[]models.Character{{ID: 1700000000000, Name: "Ada", Description: "engineer", Personality: "dry wit"}},
	)
	require.NoError(t, err)

	assert.Equal(t, models.RoleUser, msg.Role)
	assert.Equal(t,
		`Generate a Sci-Fi story in a Sarcastic tone featuring these characters: [{"id":1700000000000,"name":"Ada","description":"engineer","personality":"dry wit"}]`,
		msg.Content)
}

func TestBuildStoryRequestWithoutCharacters(t *testing.T) {
	msg, err := BuildStoryRequest(models.Selection{Genre: models.GenreFantasy, Tone: models.ToneHappy}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Generate a Fantasy story in a Happy tone featuring these characters: []", msg.Content)
}

func TestWithSystemInstruction(t *testing.T) {
	history := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	out := WithSystemInstruction(history)

	require.Len(t, out, 2)
	assert.Equal(t, models.RoleSystem, out[0].Role)
	assert.Equal(t, SystemInstruction, out[0].Content)
	assert.Equal(t, history[0], out[1])
	assert.Len(t, history, 1)

	empty := WithSystemInstruction(nil)
	require.Len(t, empty, 1)
	assert.Equal(t, models.RoleSystem, empty[0].Role)
}

func TestSystemInstructionContract(t *testing.T) {
	assert.Contains(t, SystemInstruction, "3-5 paragraphs")
	assert.Contains(t, SystemInstruction, `"Character Summaries:"`)
	for _, field := range []string{"Name", "Key traits", "Role in the story", "Impact on the plot"} {
		assert.Contains(t, SystemInstruction, field)
	}
}
