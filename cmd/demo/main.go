// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StoryTeller/internal/client"
	"github.com/Corphon/StoryTeller/internal/config"
	apperrors "github.com/Corphon/StoryTeller/internal/errors"
	"github.com/Corphon/StoryTeller/internal/models"
	"github.com/Corphon/StoryTeller/internal/services"
	"github.com/Corphon/StoryTeller/internal/studio"
	"github.com/Corphon/StoryTeller/internal/utils"

	_ "github.com/Corphon/StoryTeller/internal/llm/providers/google"
	_ "github.com/Corphon/StoryTeller/internal/llm/providers/ollama"
	_ "github.com/Corphon/StoryTeller/internal/llm/providers/openai"
)

var stdin = bufio.NewScanner(os.Stdin)

func main() {
	serverURL := flag.String("server", "", "生成端点地址，例如 http://localhost:8080；为空时在进程内直接调用模型")
	flag.Parse()

	fmt.Println("📖 StoryTeller Console")
	fmt.Println("======================")

	generator, err := newGenerator(*serverURL)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	options := loadOptions(generator)

	st := studio.New(generator)
	printer := &storyPrinter{}
	st.Subscribe(printer.onSnapshot)

	for {
		showMenu(st.Snapshot())
		switch getUserInput("请选择: ") {
		case "1":
			addCharacter(st)
		case "2":
			editCharacter(st)
		case "3":
			deleteCharacter(st)
		case "4":
			listCharacters(st.Snapshot())
		case "5":
			choose(options.Genres, "故事类型", st.SelectGenre)
		case "6":
			choose(options.Tones, "故事基调", st.SelectTone)
		case "7":
			generate(st, printer)
		case "0", "quit", "exit":
			fmt.Println("👋 再见")
			return
		default:
			fmt.Println("⚠️ 无效的选择")
		}
		fmt.Println()
	}
}

// newGenerator 远程地址非空时走 HTTP，否则按环境配置在进程内调用模型
func newGenerator(serverURL string) (studio.Generator, error) {
	if serverURL != "" {
		fmt.Printf("🔗 使用生成端点 %s\n", serverURL)
		return client.New(serverURL), nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := utils.InitLogger(utils.LoggerConfig{Level: "warn", Encoding: "console", OutputPath: "stderr"}); err != nil {
		return nil, err
	}

	llmService := services.NewLLMService(cfg.LLMProvider, cfg.LLMConfig())
	if !llmService.IsReady() {
		return nil, fmt.Errorf("模型服务未就绪: %s", llmService.GetReadyState())
	}
	fmt.Printf("🤖 进程内调用 %s / %s\n", llmService.GetProviderName(), llmService.GetDefaultModel())
	return services.NewStoryService(llmService, services.WithMaxDuration(cfg.MaxDuration)), nil
}

// loadOptions 远程模式下从服务端获取选项，失败时退回内置列表
func loadOptions(generator studio.Generator) models.StoryOptions {
	options := models.StoryOptions{Genres: models.Genres, Tones: models.Tones}
	remote, ok := generator.(*client.Client)
	if !ok {
		return options
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fetched, err := remote.Options(ctx)
	if apperrors.IsNotFoundError(err) {
		fmt.Println("⚠️ 服务端没有选项接口，使用内置列表")
		return options
	}
	if err != nil {
		fmt.Printf("⚠️ 获取选项失败，使用内置列表: %v\n", err)
		return options
	}
	return fetched
}

func showMenu(snap studio.Snapshot) {
	sel := func(v string) string {
		if v == "" {
			return "未选择"
		}
		return v
	}
	fmt.Printf("类型: %s  基调: %s  角色: %d\n", sel(string(snap.Selection.Genre)), sel(string(snap.Selection.Tone)), len(snap.Characters))
	fmt.Println("  1. 添加角色")
	fmt.Println("  2. 编辑角色")
	fmt.Println("  3. 删除角色")
	fmt.Println("  4. 查看角色")
	fmt.Println("  5. 选择故事类型")
	fmt.Println("  6. 选择故事基调")
	fmt.Println("  7. 生成故事")
	fmt.Println("  0. 退出")
}

// 获取用户输入
func getUserInput(prompt string) string {
	fmt.Print(prompt)
	if !stdin.Scan() {
		os.Exit(0)
	}
	return strings.TrimSpace(stdin.Text())
}

// 获取用户输入 (带默认值)
func getUserInputWithDefault(prompt, defaultValue string) string {
	if defaultValue != "" {
		prompt = fmt.Sprintf("%s [默认: %s]: ", prompt, defaultValue)
	} else {
		prompt += ": "
	}
	if input := getUserInput(prompt); input != "" {
		return input
	}
	return defaultValue
}

func readDraft(current models.CharacterDraft) models.CharacterDraft {
	return models.CharacterDraft{
		Name:        getUserInputWithDefault("名字", current.Name),
		Description: getUserInputWithDefault("描述", current.Description),
		Personality: getUserInputWithDefault("性格", current.Personality),
	}
}

func addCharacter(st *studio.Studio) {
	if c, ok := st.AddCharacter(readDraft(models.CharacterDraft{})); ok {
		fmt.Printf("✅ 已添加角色 %s (#%d)\n", c.Name, c.ID)
		return
	}
	fmt.Println("⚠️ 名字、描述和性格都不能为空")
}

func pickCharacter(st *studio.Studio) (int64, bool) {
	snap := st.Snapshot()
	if len(snap.Characters) == 0 {
		fmt.Println("还没有角色")
		return 0, false
	}
	listCharacters(snap)
	idx, err := strconv.Atoi(getUserInput("角色序号: "))
	if err != nil || idx < 1 || idx > len(snap.Characters) {
		fmt.Println("⚠️ 无效的序号")
		return 0, false
	}
	return snap.Characters[idx-1].ID, true
}

func editCharacter(st *studio.Studio) {
	id, ok := pickCharacter(st)
	if !ok || !st.StartEditing(id) {
		return
	}
	st.UpdateDraft(readDraft(st.Snapshot().Draft))
	if st.SaveEdit() {
		fmt.Println("✅ 已保存")
		return
	}
	st.CancelEdit()
	fmt.Println("⚠️ 名字、描述和性格都不能为空，未保存")
}

func deleteCharacter(st *studio.Studio) {
	if id, ok := pickCharacter(st); ok && st.DeleteCharacter(id) {
		fmt.Println("🗑️ 已删除")
	}
}

func listCharacters(snap studio.Snapshot) {
	for i, c := range snap.Characters {
		fmt.Printf("  %d. %s | %s | %s\n", i+1, c.Name, c.Description, c.Personality)
	}
}

func choose(options []models.Option, title string, apply func(string) error) {
	fmt.Println(title + ":")
	for i, o := range options {
		fmt.Printf("  %d. %s\n", i+1, o.Label())
	}
	idx, err := strconv.Atoi(getUserInput("请选择: "))
	if err != nil || idx < 1 || idx > len(options) {
		fmt.Println("⚠️ 无效的选择")
		return
	}
	if err := apply(options[idx-1].Value); err != nil {
		fmt.Printf("⚠️ %v\n", err)
	}
}

func generate(st *studio.Studio, printer *storyPrinter) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printer.reset()
	fmt.Println("✨ 正在生成（Ctrl+C 取消）...")
	fmt.Println()

	ok, err := st.Generate(ctx)
	fmt.Println()
	switch {
	case !ok:
		fmt.Println("⚠️ 请先选择故事类型和基调")
	case err != nil:
		fmt.Printf("❌ 生成失败: %v\n", err)
	default:
		fmt.Println("✅ 完成")
	}
}

// storyPrinter 把快照中的故事增量打印到终端
type storyPrinter struct {
	mu      sync.Mutex
	printed int
}

func (p *storyPrinter) reset() {
	p.mu.Lock()
	p.printed = 0
	p.mu.Unlock()
}

func (p *storyPrinter) onSnapshot(snap studio.Snapshot) {
	if snap.Story == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(snap.Story.Content) > p.printed {
		fmt.Print(snap.Story.Content[p.printed:])
		p.printed = len(snap.Story.Content)
	}
}
