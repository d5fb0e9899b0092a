// cmd/console/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Corphon/SekaiHub/internal/app"
	"github.com/Corphon/SekaiHub/internal/config"
	"github.com/Corphon/SekaiHub/internal/di"
	"github.com/Corphon/SekaiHub/internal/models"
	"github.com/Corphon/SekaiHub/internal/services"
	"github.com/Corphon/SekaiHub/internal/utils"
)

var (
	stdin = bufio.NewReader(os.Stdin)
	// inputClosed 标准输入读到 EOF 或出错后为 true
	inputClosed bool
)

func main() {
	fmt.Println("🚀 SekaiHub Console")
	fmt.Println("=================================")

	baseConfig, err := config.Load()
	if err != nil {
		log.Printf("❌ 加载基础配置失败: %v", err)
		return
	}

	if err := utils.InitLogger(baseConfig.LogDir + "/console.log"); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
	}

	if err := config.InitConfig(baseConfig); err != nil {
		log.Printf("❌ 初始化配置失败: %v", err)
		return
	}
	if err := app.InitServices(baseConfig); err != nil {
		log.Printf("❌ 初始化服务失败: %v", err)
		return
	}

	container := di.GetContainer()
	defer container.CloseAll()

	sessions, err := di.Resolve[*services.SessionService](container, di.ServiceSessions)
	if err != nil {
		log.Printf("❌ %v", err)
		return
	}
	worlds, _ := di.Resolve[*services.WorldService](container, di.ServiceWorlds)
	saves, _ := di.Resolve[*services.SaveService](container, di.ServiceSaves)
	llmService, _ := di.Resolve[*services.LLMService](container, di.ServiceLLM)

	if ready, state := llmService.GetProviderStatus(); !ready {
		fmt.Printf("⚠️ LLM服务未就绪: %s\n", state)
	}

	runMenu(sessions, worlds, saves)
}

// runMenu 主菜单循环，输入关闭时返回
func runMenu(sessions *services.SessionService, worlds *services.WorldService, saves *services.SaveService) {
	for {
		printBox("SekaiHub", "1. 新游戏\n2. 读取存档\n0. 退出")
		choice := getUserInput("> ")
		if choice == "" && inputClosed {
			fmt.Println("\n输入已关闭，退出")
			return
		}

		switch choice {
		case "1", "new":
			if id := newGame(sessions, worlds); id != "" {
				play(sessions, id)
			}
		case "2", "load":
			if id := loadGame(sessions, saves); id != "" {
				play(sessions, id)
			}
		case "0", "quit", "exit":
			fmt.Println("再见！")
			return
		default:
			fmt.Println("无效的选择")
		}
	}
}

// 获取用户输入，输入关闭后返回已读到的剩余内容或空串
func getUserInput(prompt string) string {
	fmt.Print(prompt)
	if inputClosed {
		return ""
	}
	line, err := stdin.ReadString('\n')
	if err != nil {
		inputClosed = true
	}
	return strings.TrimSpace(line)
}

// 获取用户输入 (带默认值)
func getUserInputWithDefault(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [默认: %s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	if input := getUserInput(""); input != "" {
		return input
	}
	return defaultValue
}

func chooseIndex(prompt string, count int) (int, bool) {
	choice, err := strconv.Atoi(getUserInput(prompt))
	if err != nil || choice < 1 || choice > count {
		fmt.Println("无效的选择")
		return 0, false
	}
	return choice - 1, true
}

func newGame(sessions *services.SessionService, worlds *services.WorldService) string {
	summaries, loadErrs := worlds.ListWorlds()
	for _, err := range loadErrs {
		fmt.Printf("⚠️ %v\n", err)
	}
	if len(summaries) == 0 {
		fmt.Println("没有可用的世界设定")
		return ""
	}

	for i, world := range summaries {
		fmt.Printf("  %d. %s (%d 个剧情阶段)\n", i+1, world.Name, len(world.Arcs))
	}
	worldIndex, ok := chooseIndex("选择世界: ", len(summaries))
	if !ok {
		return ""
	}
	world := summaries[worldIndex]
	if len(world.Arcs) == 0 {
		fmt.Println("该世界没有剧情阶段")
		return ""
	}

	for i, arc := range world.Arcs {
		fmt.Printf("  %d. %s (%s %d)\n", i+1, arc.Name, world.Calendar, arc.Year)
	}
	arcIndex, ok := chooseIndex("选择剧情阶段: ", len(world.Arcs))
	if !ok {
		return ""
	}

	race := ""
	if len(world.Races) > 0 {
		race = world.Races[0]
	}
	character := models.Character{
		Name:        getUserInputWithDefault("角色名", ""),
		Race:        getUserInputWithDefault("种族", race),
		Alignment:   getUserInputWithDefault("阵营 (Heroic/Neutral/Evil)", models.AlignmentNeutral),
		Appearance:  getUserInputWithDefault("外貌", ""),
		Personality: getUserInputWithDefault("性格", ""),
		Backstory:   getUserInputWithDefault("背景", ""),
		Power:       getUserInputWithDefault("能力", ""),
	}

	age, err := strconv.Atoi(getUserInputWithDefault("年龄", "16"))
	if err != nil {
		fmt.Println("无效的年龄")
		return ""
	}
	mode := services.ModeDropIn
	if strings.HasPrefix(strings.ToLower(getUserInputWithDefault("开局方式 (born/drop_in)", string(services.ModeDropIn))), "b") {
		mode = services.ModeBorn
	}

	fmt.Println()
	outcome, err := sessions.Launch(context.Background(), services.LaunchParams{
		World:      world.Name,
		Character:  character,
		Arc:        world.Arcs[arcIndex].Name,
		Age:        age,
		Mode:       mode,
		SavePreset: strings.EqualFold(getUserInputWithDefault("保存为预设? (y/n)", "n"), "y"),
	}, printChunk)
	fmt.Println()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		if outcome == nil {
			return ""
		}
		fmt.Println("会话已创建，可以输入 /continue 重试开场")
		return outcome.Session.ID
	}

	showStatus(outcome.Session)
	return outcome.Session.ID
}

func loadGame(sessions *services.SessionService, saves *services.SaveService) string {
	list, err := saves.ListSaves(context.Background())
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return ""
	}
	if len(list) == 0 {
		fmt.Println("没有存档")
		return ""
	}

	for i, save := range list {
		fmt.Printf("  %d. %s (%s)\n", i+1, save.Name, save.UpdatedAt.Format("2006-01-02 15:04"))
	}
	index, ok := chooseIndex("选择存档: ", len(list))
	if !ok {
		return ""
	}

	view, err := sessions.LoadSave(context.Background(), list[index].Name)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return ""
	}

	if n := len(view.Turns); n > 0 {
		fmt.Println(view.Turns[n-1].Content)
	}
	showStatus(view)
	return view.ID
}

// play 会话主循环，斜杠命令之外的输入都作为玩家行动
func play(sessions *services.SessionService, id string) {
	defer sessions.Exit(id)
	fmt.Println("命令: /reroll /continue /save /timeline /director /quit")

	for {
		input := getUserInput("\n🎭 > ")
		if input == "" {
			if inputClosed {
				return
			}
			continue
		}

		var (
			outcome *services.TurnOutcome
			err     error
		)
		ctx := services.WithRetryHook(context.Background(), func() {
			fmt.Println("\n⚠️ 主模型输出中断，改用备用模型重新生成...")
		})

		switch strings.ToLower(input) {
		case "/quit", "/exit":
			return
		case "/reroll":
			outcome, err = sessions.Reroll(ctx, id, printChunk)
		case "/continue":
			outcome, err = sessions.Continue(ctx, id, printChunk)
		case "/save":
			slot, saveErr := sessions.Save(ctx, id)
			if saveErr != nil {
				fmt.Printf("❌ %v\n", saveErr)
			} else {
				fmt.Printf("💾 已保存到 %s\n", slot)
			}
			continue
		case "/timeline":
			showTimeline(sessions, id)
			continue
		case "/director":
			director, dirErr := sessions.Director(id)
			if dirErr != nil {
				fmt.Printf("❌ %v\n", dirErr)
			} else {
				printBox("Director", director)
			}
			continue
		default:
			outcome, err = sessions.SubmitAction(ctx, id, input, printChunk)
		}

		fmt.Println()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			continue
		}
		if outcome.Turn != nil && outcome.Turn.Skipped {
			fmt.Println("没有可重新生成的回复")
			continue
		}
		if outcome.Turn != nil && outcome.Turn.Parsed != nil && outcome.Turn.Parsed.SoundCue != "" {
			fmt.Printf("🔊 %s\n", outcome.Turn.Parsed.SoundCue)
		}
		showStatus(outcome.Session)
	}
}

// 流式输出原始片段，标签在回合结束后由状态栏体现
func printChunk(chunk string) {
	fmt.Print(chunk)
}

func showStatus(view *services.SessionView) {
	lines := make([]string, 0, len(view.StatCards)+len(view.Socials)+1)
	lines = append(lines, view.StatCards...)
	for name, social := range view.Socials {
		lines = append(lines, fmt.Sprintf("%s: %s / %s", name, social.Rel, social.Status))
	}
	if n := len(view.Events); n > 0 {
		lines = append(lines, "最近事件: "+view.Events[n-1])
	}
	printBox("状态", strings.Join(lines, "\n"))
}

func showTimeline(sessions *services.SessionService, id string) {
	entries, err := sessions.Timeline(id)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}

	marks := map[services.ArcStatus]string{
		services.ArcPast:    "✔",
		services.ArcCurrent: "▶",
		services.ArcFuture:  "·",
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s %d %s", marks[entry.Status], entry.Year, entry.Name))
	}
	printBox("Timeline", strings.Join(lines, "\n"))
}

// printBox 带边框输出内容
func printBox(title, content string) {
	const width = 60
	border := strings.Repeat("─", width)

	fmt.Println("┌" + border + "┐")
	if title != "" {
		fmt.Println("│ " + padRight(title, width-1) + "│")
		fmt.Println("├" + border + "┤")
	}
	for _, line := range strings.Split(content, "\n") {
		for _, wrapped := range wrapLine(line, width-2) {
			fmt.Println("│ " + padRight(wrapped, width-1) + "│")
		}
	}
	fmt.Println("└" + border + "┘")
}

func wrapLine(line string, maxWidth int) []string {
	runes := []rune(line)
	if len(runes) <= maxWidth {
		return []string{line}
	}
	var lines []string
	for len(runes) > maxWidth {
		lines = append(lines, string(runes[:maxWidth]))
		runes = runes[maxWidth:]
	}
	return append(lines, string(runes))
}

func padRight(text string, width int) string {
	if n := utf8.RuneCountInString(text); n < width {
		return text + strings.Repeat(" ", width-n)
	}
	return text
}
